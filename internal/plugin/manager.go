package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/amia-bot/amia/internal/config"
	"github.com/amia-bot/amia/internal/onebot"
	"github.com/amia-bot/amia/internal/realtime"
	"github.com/amia-bot/amia/internal/store"
)

// Options configures a Manager.
type Options struct {
	PluginDir    string
	CacheDir     string
	OverridesDir string
	Prefixes     []string
}

// entry is one registered plugin with its cached per-trigger overrides.
type entry struct {
	host      *Host
	overrides *config.PluginOverrides
	loadedAt  time.Time
}

// Summary reports the outcome of a scan.
type Summary struct {
	Found  int `json:"found"`
	Loaded int `json:"loaded"`
	Failed int `json:"failed"`
}

// Manager owns the plugin registry: it discovers archives, loads them
// into hosts and routes messages to matching triggers.
//
// The registry lock is never held while a handler runs; Dispatch works
// on a snapshot, so a slow plugin cannot block reloads.
type Manager struct {
	opts   Options
	bot    BotAPI
	store  store.DispatchStore
	broker *realtime.Broker
	logger hclog.Logger

	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	failures map[string]error // archive path -> last load error
}

// NewManager creates a Manager. store and broker may be nil.
func NewManager(opts Options, bot BotAPI, st store.DispatchStore, broker *realtime.Broker, logger hclog.Logger) *Manager {
	return &Manager{
		opts:     opts,
		bot:      bot,
		store:    st,
		broker:   broker,
		logger:   logger.Named("plugin"),
		entries:  make(map[string]*entry),
		failures: make(map[string]error),
	}
}

// ScanAndLoad walks the plugin directory and loads every enabled archive
// that is new or changed since its last load. Archives that fail to load
// are recorded and skipped; one broken plugin never blocks the rest.
func (m *Manager) ScanAndLoad() Summary {
	paths, err := m.listArchives(false)
	if err != nil {
		m.logger.Error("plugin directory scan failed", "dir", m.opts.PluginDir, "error", err)
		return Summary{}
	}

	var sum Summary
	sum.Found = len(paths)
	for _, path := range paths {
		if !m.needsLoad(path) {
			sum.Loaded++
			continue
		}
		if err := m.loadArchive(path); err != nil {
			m.logger.Error("plugin load failed", "file", filepath.Base(path), "error", err)
			sum.Failed++
			continue
		}
		sum.Loaded++
	}

	m.dropMissing(paths)
	return sum
}

// listArchives returns archive paths in the plugin dir, sorted by name so
// load order is deterministic.
func (m *Manager) listArchives(disabled bool) ([]string, error) {
	dirents, err := os.ReadDir(m.opts.PluginDir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if disabled && IsDisabledArchive(name) || !disabled && IsArchive(name) {
			paths = append(paths, filepath.Join(m.opts.PluginDir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// needsLoad reports whether path has no live entry or changed on disk
// since its entry was loaded.
func (m *Manager) needsLoad(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.host.ArchivePath == path {
			return fi.ModTime().After(e.loadedAt)
		}
	}
	return true
}

// loadArchive loads one archive and registers its host. A plugin id that
// is already registered is replaced: the later archive wins and the old
// host is closed.
func (m *Manager) loadArchive(path string) error {
	host, err := NewHost(path, m.opts.CacheDir, m.bot, m.logger)
	if err != nil {
		m.mu.Lock()
		m.failures[path] = err
		m.mu.Unlock()
		return err
	}

	id := host.Manifest.ID
	if err := config.EnsureOverrides(m.opts.OverridesDir, id, host.Manifest.TriggerIDs(), nil); err != nil {
		m.logger.Warn("override file not written", "plugin", id, "error", err)
	}
	ov, err := config.LoadOverrides(m.opts.OverridesDir, id)
	if err != nil {
		m.logger.Warn("override file unreadable, using defaults", "plugin", id, "error", err)
		ov = &config.PluginOverrides{}
	}

	m.mu.Lock()
	old, existed := m.entries[id]
	m.entries[id] = &entry{host: host, overrides: ov, loadedAt: time.Now()}
	if !existed {
		m.order = append(m.order, id)
	}
	delete(m.failures, path)
	m.mu.Unlock()

	if existed {
		m.logger.Warn("duplicate plugin id, later archive wins",
			"plugin", id, "replaced", filepath.Base(old.host.ArchivePath),
			"file", filepath.Base(path))
		old.host.Close()
	}

	m.logger.Info("plugin loaded", "plugin", id,
		"version", host.Manifest.Version, "triggers", len(host.Triggers()))
	m.publish("plugin.loaded", id, "", "ok", "")
	return nil
}

// dropMissing unregisters plugins whose archive disappeared from disk.
func (m *Manager) dropMissing(present []string) {
	onDisk := make(map[string]bool, len(present))
	for _, p := range present {
		onDisk[p] = true
	}

	var removed []*entry
	m.mu.Lock()
	for id, e := range m.entries {
		if !onDisk[e.host.ArchivePath] {
			removed = append(removed, e)
			delete(m.entries, id)
			m.removeOrder(id)
		}
	}
	for path := range m.failures {
		if !onDisk[path] {
			delete(m.failures, path)
		}
	}
	m.mu.Unlock()

	for _, e := range removed {
		m.logger.Info("plugin unloaded, archive removed",
			"plugin", e.host.Manifest.ID)
		m.publish("plugin.unloaded", e.host.Manifest.ID, "", "ok", "")
		e.host.Close()
	}
}

// removeOrder must be called with m.mu held.
func (m *Manager) removeOrder(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// Reload replaces a plugin's host with a fresh load of its archive. On
// failure the old host keeps serving; reload is all-or-nothing.
func (m *Manager) Reload(id string) error {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	host, err := NewHost(e.host.ArchivePath, m.opts.CacheDir, m.bot, m.logger)
	if err != nil {
		m.publish("plugin.reloaded", id, "", "error", err.Error())
		return err
	}
	ov, err := config.LoadOverrides(m.opts.OverridesDir, host.Manifest.ID)
	if err != nil {
		ov = &config.PluginOverrides{}
	}

	m.mu.Lock()
	old := m.entries[id]
	newID := host.Manifest.ID
	if newID != id {
		// The archive's id changed; re-register under the new id.
		delete(m.entries, id)
		m.removeOrder(id)
		m.order = append(m.order, newID)
	}
	m.entries[newID] = &entry{host: host, overrides: ov, loadedAt: time.Now()}
	m.mu.Unlock()

	if old != nil {
		old.host.Close()
	}
	m.logger.Info("plugin reloaded", "plugin", newID, "version", host.Manifest.Version)
	m.publish("plugin.reloaded", newID, "", "ok", "")
	return nil
}

// ReloadAll reloads every registered plugin, isolating failures.
func (m *Manager) ReloadAll() Summary {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var sum Summary
	sum.Found = len(ids)
	for _, id := range ids {
		if err := m.Reload(id); err != nil {
			m.logger.Error("plugin reload failed", "plugin", id, "error", err)
			sum.Failed++
			continue
		}
		sum.Loaded++
	}
	return sum
}

// Disable renames a plugin's archive to the disabled suffix and unloads
// it. name may be a loaded plugin id or an archive file stem.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	var path string
	if ok {
		path = e.host.ArchivePath
		delete(m.entries, name)
		m.removeOrder(name)
	}
	m.mu.Unlock()

	if !ok {
		path = filepath.Join(m.opts.PluginDir, name+ArchiveExt)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
		}
	}

	disabled := strings.TrimSuffix(path, ArchiveExt) + DisabledExt
	if err := os.Rename(path, disabled); err != nil {
		return fmt.Errorf("disable %s: %w", name, err)
	}
	if ok {
		e.host.Close()
	}
	m.logger.Info("plugin disabled", "plugin", name)
	m.publish("plugin.disabled", name, "", "ok", "")
	return nil
}

// Enable renames a disabled archive back and loads it. name may be a
// plugin id or an archive file stem.
func (m *Manager) Enable(name string) error {
	paths, err := m.listArchives(true)
	if err != nil {
		return err
	}

	var disabled string
	for _, p := range paths {
		if PluginIDFromPath(p) == name {
			disabled = p
			break
		}
		if mf, err := ReadManifest(p); err == nil && mf.ID == name {
			disabled = p
			break
		}
	}
	if disabled == "" {
		return fmt.Errorf("%w: no disabled archive for %s", ErrPluginNotFound, name)
	}

	enabled := strings.TrimSuffix(disabled, DisabledExt) + ArchiveExt
	if err := os.Rename(disabled, enabled); err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}
	if err := m.loadArchive(enabled); err != nil {
		return err
	}
	m.logger.Info("plugin enabled", "plugin", name)
	m.publish("plugin.enabled", name, "", "ok", "")
	return nil
}

// RefreshOverrides re-reads a plugin's override file. The admin console
// calls this after writing new trigger settings.
func (m *Manager) RefreshOverrides(id string) error {
	ov, err := config.LoadOverrides(m.opts.OverridesDir, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	e.overrides = ov
	return nil
}

// Dispatch routes a message through every bound trigger of every loaded
// plugin, in load order then manifest order. Handlers run strictly one
// after another; a handler error is logged and recorded but never stops
// later triggers from firing.
func (m *Manager) Dispatch(ctx context.Context, msg *onebot.Message) {
	// The snapshot copies both pointers under the lock: entry.overrides
	// is swapped by RefreshOverrides, so reading it through a retained
	// *entry after unlock would race.
	type target struct {
		host      *Host
		overrides *config.PluginOverrides
	}
	m.mu.RLock()
	snapshot := make([]target, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.entries[id]; ok {
			snapshot = append(snapshot, target{host: e.host, overrides: e.overrides})
		}
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		for _, t := range e.host.Triggers() {
			if t.Spec.Type == TriggerSchedule {
				continue
			}
			ov := e.overrides.Trigger(t.Spec.ID)
			if !m.triggerAllowed(&ov, msg) {
				continue
			}
			match, ok := t.Match(msg, m.opts.Prefixes, ov.MustPrefixEnabled())
			if !ok {
				continue
			}
			m.runHandler(ctx, e.host, t, msg, match)
		}
	}
}

// triggerAllowed applies per-trigger override scoping to a message.
func (m *Manager) triggerAllowed(ov *config.TriggerOverride, msg *onebot.Message) bool {
	if !ov.Enabled {
		return false
	}
	if msg.IsGroup() {
		return ov.AllowsGroup(msg.GroupID)
	}
	return ov.AllowPrivate
}

// FireSchedule invokes a schedule trigger's handler. The scheduler calls
// this when a cron expression comes due.
func (m *Manager) FireSchedule(pluginID, triggerID string) {
	m.mu.RLock()
	var host *Host
	var ov *config.PluginOverrides
	if e, ok := m.entries[pluginID]; ok {
		host, ov = e.host, e.overrides
	}
	m.mu.RUnlock()
	if host == nil {
		return
	}

	t := host.Trigger(triggerID)
	if t == nil || t.Spec.Type != TriggerSchedule {
		return
	}
	if !ov.Trigger(triggerID).Enabled {
		return
	}
	m.runHandler(context.Background(), host, t, nil, nil)
}

// ScheduleTriggers returns every schedule trigger of every loaded plugin
// with its cron spec, for the scheduler to register.
func (m *Manager) ScheduleTriggers() map[[2]string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[[2]string]string)
	for id, e := range m.entries {
		for _, t := range e.host.Triggers() {
			if t.Spec.Type == TriggerSchedule {
				out[[2]string{id, t.Spec.ID}] = t.Spec.ParamString("spec")
			}
		}
	}
	return out
}

func (m *Manager) runHandler(ctx context.Context, h *Host, t *BoundTrigger, msg *onebot.Message, match *Match) {
	started := time.Now()
	err := h.Invoke(ctx, t, msg, match)
	elapsed := time.Since(started)

	d := &store.Dispatch{
		PluginID:   h.Manifest.ID,
		TriggerID:  t.Spec.ID,
		Kind:       t.Spec.Type,
		Status:     "ok",
		DurationMs: elapsed.Milliseconds(),
	}
	if msg != nil {
		d.UserID = msg.UserID
		d.GroupID = msg.GroupID
		d.Summary = truncate(msg.Text, 200)
	}
	if err != nil {
		d.Status = "error"
		d.ErrorMsg = err.Error()
		m.logger.Error("handler failed",
			"plugin", h.Manifest.ID, "trigger", t.Spec.ID, "error", err)
	} else {
		m.logger.Debug("handler dispatched",
			"plugin", h.Manifest.ID, "trigger", t.Spec.ID, "duration", elapsed)
	}

	if m.store != nil {
		if serr := m.store.RecordDispatch(ctx, d); serr != nil {
			m.logger.Warn("dispatch not recorded", "error", serr)
		}
	}
	m.publish("dispatch.fired", h.Manifest.ID, t.Spec.ID, d.Status, d.ErrorMsg)
}

func (m *Manager) publish(typ, pluginID, triggerID, status, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(realtime.Event{
		Type:    typ,
		Plugin:  pluginID,
		Trigger: triggerID,
		Status:  status,
		Message: message,
	})
}

// Close unloads every plugin.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.order = nil
	m.mu.Unlock()

	for _, e := range entries {
		e.host.Close()
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
