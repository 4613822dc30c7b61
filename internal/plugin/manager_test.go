package plugin

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amia-bot/amia/internal/config"
	"github.com/amia-bot/amia/internal/onebot"
)

type sentMsg struct {
	Kind string
	ID   int64
	Text string
}

type fakeBot struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (b *fakeBot) SendGroupMsg(ctx context.Context, groupID int64, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMsg{Kind: "group", ID: groupID, Text: message})
	return nil
}

func (b *fakeBot) SendPrivateMsg(ctx context.Context, userID int64, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMsg{Kind: "private", ID: userID, Text: message})
	return nil
}

func (b *fakeBot) all() []sentMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMsg(nil), b.sent...)
}

func writeArchive(t *testing.T, dir, file, manifest, mainLua string) string {
	t.Helper()

	path := filepath.Join(dir, file)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	w, err := zw.Create(ManifestName)
	require.NoError(t, err)
	_, err = w.Write([]byte(manifest))
	require.NoError(t, err)

	w, err = zw.Create(EntryFile)
	require.NoError(t, err)
	_, err = w.Write([]byte(mainLua))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func echoManifest(id string) string {
	return fmt.Sprintf(`{
		"id": %q, "name": "Echo", "version": "1.0.0",
		"triggers": [
			{"id": "cmd", "type": "text_command", "func": "on_cmd",
			 "params": {"command": "echo"}}
		]
	}`, id)
}

const echoLua = `function on_cmd(msg, match) amia.reply("echo: " .. match.args) end`

func newTestManager(t *testing.T, bot BotAPI) (*Manager, string) {
	t.Helper()

	root := t.TempDir()
	pluginDir := filepath.Join(root, "plugins")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))

	m := NewManager(Options{
		PluginDir:    pluginDir,
		CacheDir:     filepath.Join(root, "cache"),
		OverridesDir: filepath.Join(root, "overrides"),
		Prefixes:     []string{"/", "!"},
	}, bot, nil, nil, hclog.NewNullLogger())
	t.Cleanup(m.Close)
	return m, pluginDir
}

func privateMsg(text string) *onebot.Message {
	return &onebot.Message{
		MessageType: "private",
		UserID:      10001,
		Text:        text,
		Raw:         []byte(`{"post_type":"message","message_type":"private","user_id":10001}`),
	}
}

func groupMsg(groupID int64, text string) *onebot.Message {
	return &onebot.Message{
		MessageType: "group",
		UserID:      10001,
		GroupID:     groupID,
		Text:        text,
		Raw:         []byte(fmt.Sprintf(`{"post_type":"message","message_type":"group","user_id":10001,"group_id":%d}`, groupID)),
	}
}

func TestScanAndLoadCounts(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)

	writeArchive(t, dir, "a.plugin", echoManifest("echo-a"), echoLua)
	writeArchive(t, dir, "b.plugin", echoManifest("echo-b"), echoLua)
	writeArchive(t, dir, "broken.plugin", `{"id": "broken"}`, "")

	sum := m.ScanAndLoad()
	assert.Equal(t, Summary{Found: 3, Loaded: 2, Failed: 1}, sum)

	status := m.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "loaded", status[0].State)
	assert.Equal(t, "loaded", status[1].State)
	assert.Equal(t, "failed", status[2].State)
	assert.Equal(t, "broken.plugin", status[2].File)
	assert.NotEmpty(t, status[2].Error)

	// A second scan is a no-op for unchanged archives.
	sum = m.ScanAndLoad()
	assert.Equal(t, 2, sum.Loaded)
}

func TestDuplicatePluginIDLastWins(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)

	writeArchive(t, dir, "a.plugin", echoManifest("echo"),
		`function on_cmd(msg, match) amia.reply("from a") end`)
	writeArchive(t, dir, "b.plugin", echoManifest("echo"),
		`function on_cmd(msg, match) amia.reply("from b") end`)

	m.ScanAndLoad()

	var loaded []PluginStatus
	for _, st := range m.Status() {
		if st.State == "loaded" {
			loaded = append(loaded, st)
		}
	}
	require.Len(t, loaded, 1)
	assert.Equal(t, "b.plugin", loaded[0].File)

	m.Dispatch(context.Background(), privateMsg("/echo hi"))
	sent := bot.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "from b", sent[0].Text)
}

func TestDispatchCommandTrigger(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)
	writeArchive(t, dir, "echo.plugin", echoManifest("echo"), echoLua)
	m.ScanAndLoad()

	m.Dispatch(context.Background(), privateMsg("/echo hello"))
	m.Dispatch(context.Background(), privateMsg("no trigger here"))

	sent := bot.all()
	require.Len(t, sent, 1)
	assert.Equal(t, sentMsg{Kind: "private", ID: 10001, Text: "echo: hello"}, sent[0])

	// Group messages reply into the group.
	m.Dispatch(context.Background(), groupMsg(555, "!echo hi"))
	sent = bot.all()
	require.Len(t, sent, 2)
	assert.Equal(t, sentMsg{Kind: "group", ID: 555, Text: "echo: hi"}, sent[1])
}

func TestHandlerErrorIsolation(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)

	manifest := `{
		"id": "duo", "name": "Duo",
		"triggers": [
			{"id": "first", "type": "text_command", "func": "on_first",
			 "params": {"command": "go"}},
			{"id": "second", "type": "text_command", "func": "on_second",
			 "params": {"command": "go"}}
		]
	}`
	lua := `
		function on_first(msg, match) error("deliberate failure") end
		function on_second(msg, match) amia.reply("second ran") end
	`
	writeArchive(t, dir, "duo.plugin", manifest, lua)
	m.ScanAndLoad()

	m.Dispatch(context.Background(), privateMsg("/go"))

	sent := bot.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "second ran", sent[0].Text)
}

func TestDisableEnableRoundTrip(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)
	writeArchive(t, dir, "echo.plugin", echoManifest("echo"), echoLua)
	m.ScanAndLoad()

	require.NoError(t, m.Disable("echo"))
	_, err := os.Stat(filepath.Join(dir, "echo.plugin.disabled"))
	require.NoError(t, err)

	m.Dispatch(context.Background(), privateMsg("/echo hi"))
	assert.Empty(t, bot.all())

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "disabled", status[0].State)
	assert.Equal(t, "echo", status[0].ID)

	require.NoError(t, m.Enable("echo"))
	m.Dispatch(context.Background(), privateMsg("/echo hi"))
	assert.Len(t, bot.all(), 1)
}

func TestReloadKeepsOldHostOnFailure(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)
	writeArchive(t, dir, "echo.plugin", echoManifest("echo"), echoLua)
	m.ScanAndLoad()

	// Replace the archive with one that fails to load.
	writeArchive(t, dir, "echo.plugin", echoManifest("echo"), `this is not lua (`)
	require.Error(t, m.Reload("echo"))

	// The previous host keeps serving.
	m.Dispatch(context.Background(), privateMsg("/echo still here"))
	sent := bot.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "echo: still here", sent[0].Text)

	// A fixed archive reloads cleanly.
	writeArchive(t, dir, "echo.plugin", echoManifest("echo"),
		`function on_cmd(msg, match) amia.reply("v2: " .. match.args) end`)
	require.NoError(t, m.Reload("echo"))

	m.Dispatch(context.Background(), privateMsg("/echo again"))
	sent = bot.all()
	require.Len(t, sent, 2)
	assert.Equal(t, "v2: again", sent[1].Text)
}

func TestOverrideScoping(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)
	writeArchive(t, dir, "echo.plugin", echoManifest("echo"), echoLua)
	m.ScanAndLoad()

	// Restrict the trigger to group 100 and forbid private chats.
	ov := &config.PluginOverrides{Triggers: map[string]config.TriggerOverride{
		"cmd": {Enabled: true, AllowPrivate: false, Groups: []int64{100}},
	}}
	require.NoError(t, config.SaveOverrides(m.opts.OverridesDir, "echo", ov))
	require.NoError(t, m.RefreshOverrides("echo"))

	m.Dispatch(context.Background(), privateMsg("/echo hi"))
	m.Dispatch(context.Background(), groupMsg(200, "/echo hi"))
	assert.Empty(t, bot.all())

	m.Dispatch(context.Background(), groupMsg(100, "/echo hi"))
	assert.Len(t, bot.all(), 1)

	// Disabling the trigger stops dispatch entirely.
	ov.Triggers["cmd"] = config.TriggerOverride{Enabled: false}
	require.NoError(t, config.SaveOverrides(m.opts.OverridesDir, "echo", ov))
	require.NoError(t, m.RefreshOverrides("echo"))

	m.Dispatch(context.Background(), groupMsg(100, "/echo hi"))
	assert.Len(t, bot.all(), 1)
}

func TestFireSchedule(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)

	manifest := `{
		"id": "clock", "name": "Clock",
		"triggers": [
			{"id": "tick", "type": "schedule", "func": "on_tick",
			 "params": {"spec": "@every 1h"}}
		]
	}`
	writeArchive(t, dir, "clock.plugin", manifest,
		`function on_tick() amia.send_group_msg(42, "tick") end`)
	m.ScanAndLoad()

	specs := m.ScheduleTriggers()
	assert.Equal(t, "@every 1h", specs[[2]string{"clock", "tick"}])

	m.FireSchedule("clock", "tick")
	sent := bot.all()
	require.Len(t, sent, 1)
	assert.Equal(t, sentMsg{Kind: "group", ID: 42, Text: "tick"}, sent[0])

	// Unknown ids are ignored.
	m.FireSchedule("clock", "nope")
	m.FireSchedule("nope", "tick")
	assert.Len(t, bot.all(), 1)
}

func TestMissingArchiveUnloads(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)
	path := writeArchive(t, dir, "echo.plugin", echoManifest("echo"), echoLua)
	m.ScanAndLoad()

	require.NoError(t, os.Remove(path))
	sum := m.ScanAndLoad()
	assert.Equal(t, Summary{}, sum)

	m.Dispatch(context.Background(), privateMsg("/echo hi"))
	assert.Empty(t, bot.all())
}

func TestOverrideRefreshConcurrentWithDispatch(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)
	writeArchive(t, dir, "echo.plugin", echoManifest("echo"), echoLua)
	require.Equal(t, Summary{Found: 1, Loaded: 1}, m.ScanAndLoad())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			assert.NoError(t, m.RefreshOverrides("echo"))
		}
	}()
	for i := 0; i < 200; i++ {
		m.Dispatch(context.Background(), privateMsg("/echo hi"))
	}
	<-done

	assert.Len(t, bot.all(), 200)
}

func TestReloadAllIsolatesFailure(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	m, dir := newTestManager(t, bot)
	writeArchive(t, dir, "a.plugin", echoManifest("echo-a"), echoLua)
	writeArchive(t, dir, "b.plugin", echoManifest("echo-b"),
		`function on_cmd(msg, match) amia.reply("b v1: " .. match.args) end`)
	require.Equal(t, Summary{Found: 2, Loaded: 2}, m.ScanAndLoad())

	// Break b's archive on disk; a is untouched.
	writeArchive(t, dir, "b.plugin", `{"id": "echo-b"}`, "")
	sum := m.ReloadAll()
	assert.Equal(t, Summary{Found: 2, Loaded: 1, Failed: 1}, sum)

	// a reloaded and dispatches; b keeps serving its old host.
	m.Dispatch(context.Background(), privateMsg("/echo hi"))
	sent := bot.all()
	require.Len(t, sent, 2)
	texts := []string{sent[0].Text, sent[1].Text}
	assert.Contains(t, texts, "echo: hi")
	assert.Contains(t, texts, "b v1: hi")
}
