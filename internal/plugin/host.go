package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	lua "github.com/yuin/gopher-lua"

	"github.com/amia-bot/amia/internal/onebot"
	plua "github.com/amia-bot/amia/internal/plugin/lua"
)

// EntryFile is the Lua entry point inside every plugin archive.
const EntryFile = "main.lua"

// BotAPI is what plugin handlers may do to the chat platform.
// *onebot.Client satisfies it.
type BotAPI interface {
	SendGroupMsg(ctx context.Context, groupID int64, message string) error
	SendPrivateMsg(ctx context.Context, userID int64, message string) error
}

// BoundTrigger is a manifest trigger whose matcher compiled and whose
// handler function exists in the plugin's Lua state.
type BoundTrigger struct {
	Spec    TriggerSpec
	matcher Matcher
}

// Match runs the trigger's matcher. Schedule triggers never match messages.
func (b *BoundTrigger) Match(msg *onebot.Message, prefixes []string, mustPrefix bool) (*Match, bool) {
	if b.matcher == nil {
		return nil, false
	}
	return b.matcher.Match(msg, prefixes, mustPrefix)
}

// Host is one loaded plugin: its extracted files, its Lua state and its
// bound triggers.
type Host struct {
	Manifest    *Manifest
	Dir         string
	ArchivePath string

	state  *plua.State
	bot    BotAPI
	logger hclog.Logger

	triggers []*BoundTrigger

	mu  sync.Mutex
	ctx context.Context
	cur *onebot.Message
}

// NewHost extracts the archive, loads its entry file into a fresh
// sandboxed Lua state and binds the manifest's triggers. Triggers whose
// matcher fails to compile or whose handler function is missing are
// dropped with a warning; the plugin still loads if any trigger binds.
func NewHost(archivePath, cacheDir string, bot BotAPI, logger hclog.Logger) (*Host, error) {
	dir, m, err := Extract(archivePath, cacheDir)
	if err != nil {
		return nil, err
	}

	entry := filepath.Join(dir, EntryFile)
	if _, err := os.Stat(entry); err != nil {
		return nil, fmt.Errorf("plugin %s: missing %s", m.ID, EntryFile)
	}

	h := &Host{
		Manifest:    m,
		Dir:         dir,
		ArchivePath: archivePath,
		state:       plua.NewState(),
		bot:         bot,
		logger:      logger.Named(m.ID),
	}
	h.installHostModule()

	if err := h.state.DoFile(entry); err != nil {
		h.state.Close()
		return nil, fmt.Errorf("plugin %s: %w", m.ID, err)
	}

	for i := range m.Triggers {
		spec := m.Triggers[i]
		matcher, err := NewMatcher(&spec)
		if err != nil {
			h.logger.Warn("trigger dropped", "trigger", spec.ID, "error", err)
			continue
		}
		if !h.state.HasGlobalFunc(spec.Func) {
			h.logger.Warn("trigger dropped, handler not defined",
				"trigger", spec.ID, "func", spec.Func)
			continue
		}
		h.triggers = append(h.triggers, &BoundTrigger{Spec: spec, matcher: matcher})
	}

	if len(h.triggers) == 0 {
		h.state.Close()
		return nil, fmt.Errorf("plugin %s: no usable triggers", m.ID)
	}
	return h, nil
}

// Triggers returns the bound triggers in manifest order.
func (h *Host) Triggers() []*BoundTrigger {
	return h.triggers
}

// Trigger returns the bound trigger with the given id.
func (h *Host) Trigger(id string) *BoundTrigger {
	for _, t := range h.triggers {
		if t.Spec.ID == id {
			return t
		}
	}
	return nil
}

// Invoke calls the trigger's handler function. msg and match are nil for
// schedule triggers. Handler errors and Lua panics come back as errors.
func (h *Host) Invoke(ctx context.Context, t *BoundTrigger, msg *onebot.Message, match *Match) error {
	h.mu.Lock()
	h.ctx, h.cur = ctx, msg
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.ctx, h.cur = nil, nil
		h.mu.Unlock()
	}()

	args := []lua.LValue{h.messageTable(msg), h.matchTable(match)}
	_, err := h.state.Call(t.Spec.Func, args...)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", t.Spec.ID, err)
	}
	return nil
}

// Close releases the plugin's Lua state. Extracted files stay on disk so
// a reload can diff against them.
func (h *Host) Close() {
	h.state.Close()
}

func (h *Host) current() (context.Context, *onebot.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ctx := h.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, h.cur
}

func (h *Host) messageTable(msg *onebot.Message) lua.LValue {
	if msg == nil {
		return lua.LNil
	}
	return plua.ToLua(h.state.L, map[string]interface{}{
		"message_type": msg.MessageType,
		"message_id":   msg.MessageID,
		"user_id":      msg.UserID,
		"group_id":     msg.GroupID,
		"self_id":      msg.SelfID,
		"time":         msg.Time,
		"text":         msg.Text,
		"raw_text":     msg.RawText,
		"is_group":     msg.IsGroup(),
		"sender": map[string]interface{}{
			"user_id":  msg.Sender.UserID,
			"nickname": msg.Sender.Nickname,
			"card":     msg.Sender.Card,
		},
	})
}

func (h *Host) matchTable(match *Match) lua.LValue {
	if match == nil {
		return lua.LNil
	}
	return plua.ToLua(h.state.L, map[string]interface{}{
		"matched": match.Matched,
		"args":    match.Args,
	})
}

// installHostModule registers the "amia" Lua module plugin handlers use
// to talk back to the platform.
func (h *Host) installHostModule() {
	h.state.RegisterModule("amia", map[string]lua.LGFunction{
		"send_group_msg": func(L *lua.LState) int {
			groupID := int64(L.CheckNumber(1))
			text := L.CheckString(2)
			ctx, _ := h.current()
			if err := h.bot.SendGroupMsg(ctx, groupID, text); err != nil {
				L.RaiseError("send_group_msg: %s", err.Error())
			}
			return 0
		},
		"send_private_msg": func(L *lua.LState) int {
			userID := int64(L.CheckNumber(1))
			text := L.CheckString(2)
			ctx, _ := h.current()
			if err := h.bot.SendPrivateMsg(ctx, userID, text); err != nil {
				L.RaiseError("send_private_msg: %s", err.Error())
			}
			return 0
		},
		"reply": func(L *lua.LState) int {
			text := L.CheckString(1)
			ctx, msg := h.current()
			if msg == nil {
				L.RaiseError("reply: no message in scope")
				return 0
			}
			var err error
			if msg.IsGroup() {
				err = h.bot.SendGroupMsg(ctx, msg.GroupID, text)
			} else {
				err = h.bot.SendPrivateMsg(ctx, msg.UserID, text)
			}
			if err != nil {
				L.RaiseError("reply: %s", err.Error())
			}
			return 0
		},
		"log": func(L *lua.LState) int {
			level := L.CheckString(1)
			text := L.CheckString(2)
			switch level {
			case "debug":
				h.logger.Debug(text)
			case "warn":
				h.logger.Warn(text)
			case "error":
				h.logger.Error(text)
			default:
				h.logger.Info(text)
			}
			return 0
		},
	})
}
