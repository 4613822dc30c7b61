package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Watcher rescans the plugin directory when archives change on disk.
// Events are debounced so copying a large archive triggers one scan, not
// one per write.
type Watcher struct {
	fw       *fsnotify.Watcher
	manager  *Manager
	logger   hclog.Logger
	debounce time.Duration
}

// NewWatcher creates a Watcher over the manager's plugin directory.
func NewWatcher(m *Manager, logger hclog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(m.opts.PluginDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", m.opts.PluginDir, err)
	}
	return &Watcher{
		fw:       fw,
		manager:  m,
		logger:   logger.Named("watcher"),
		debounce: 500 * time.Millisecond,
	}, nil
}

// Run processes events until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !isArchiveEvent(event) {
				continue
			}
			w.logger.Debug("archive changed", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer, fire = nil, nil
			sum := w.manager.ScanAndLoad()
			w.logger.Info("plugin directory rescanned",
				"found", sum.Found, "loaded", sum.Loaded, "failed", sum.Failed)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func isArchiveEvent(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ArchiveExt) && !strings.HasSuffix(event.Name, DisabledExt) {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}
