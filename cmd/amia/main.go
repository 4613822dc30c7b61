package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/amia-bot/amia/internal/config"
	"github.com/amia-bot/amia/internal/logging"
	"github.com/amia-bot/amia/internal/onebot"
	"github.com/amia-bot/amia/internal/plugin"
	"github.com/amia-bot/amia/internal/realtime"
	"github.com/amia-bot/amia/internal/scheduler"
	"github.com/amia-bot/amia/internal/store"
	"github.com/amia-bot/amia/internal/web"
	"github.com/amia-bot/amia/internal/web/api"
)

func main() {
	// Check for subcommands before flag parsing.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "pack":
			os.Exit(runPack(os.Args[2:]))
		}
	}

	configPath := flag.String("config", "config.json", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	ring := logging.NewRing(cfg.Logging.BufferSize)
	logger, closeLogs, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Dir, ring)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLogs()

	for _, dir := range []string{cfg.Plugin.Dir, cfg.Plugin.CacheDir, cfg.Plugin.DataDir, cfg.OverridesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("could not create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	dbPath := filepath.Join(cfg.Plugin.DataDir, "amia.db")
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("could not open store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store opened", "path", dbPath)

	events := realtime.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The gateway client and the plugin manager refer to each other:
	// inbound messages dispatch through the manager, plugin handlers
	// send replies through the client.
	var mgr *plugin.Manager
	client := onebot.NewClient(onebot.Options{
		Host:        cfg.OneBot.Host,
		HTTPPort:    cfg.OneBot.HTTPPort,
		WSPort:      cfg.OneBot.WSPort,
		AccessToken: cfg.OneBot.AccessToken,
		Logger:      logger,
	}, func(ctx context.Context, msg *onebot.Message) {
		mgr.Dispatch(ctx, msg)
	})

	mgr = plugin.NewManager(plugin.Options{
		PluginDir:    cfg.Plugin.Dir,
		CacheDir:     cfg.Plugin.CacheDir,
		OverridesDir: cfg.OverridesDir(),
		Prefixes:     cfg.OneBot.Prefixes,
	}, client, st, events, logger)
	defer mgr.Close()

	sum := mgr.ScanAndLoad()
	logger.Info("plugins scanned", "found", sum.Found, "loaded", sum.Loaded, "failed", sum.Failed)

	sched := scheduler.NewScheduler(mgr.FireSchedule)
	syncSchedules := func() {
		specs := make(map[scheduler.TriggerKey]string)
		for key, spec := range mgr.ScheduleTriggers() {
			specs[scheduler.TriggerKey{Plugin: key[0], Trigger: key[1]}] = spec
		}
		sched.Sync(specs, func(key scheduler.TriggerKey, expr string, err error) {
			logger.Warn("invalid schedule, trigger skipped",
				"plugin", key.Plugin, "trigger", key.Trigger, "spec", expr, "error", err)
		})
	}
	syncSchedules()
	sched.Start()
	defer sched.Stop()

	// Plugin load/unload churn invalidates the schedule set.
	go func() {
		sub, unsub := events.Subscribe()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub:
				if !ok {
					return
				}
				if strings.HasPrefix(evt.Type, "plugin.") {
					syncSchedules()
				}
			}
		}
	}()

	if cfg.Plugin.WatchEnabled() {
		watcher, err := plugin.NewWatcher(mgr, logger)
		if err != nil {
			logger.Warn("plugin directory watcher unavailable", "error", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	go client.Run(ctx)

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := logging.Cleanup(cfg.Logging.Dir, cfg.Logging.RetentionDays, cfg.Logging.MaxTotalMB*1024*1024); err != nil {
				logger.Warn("log cleanup failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	a := &api.API{
		Manager:      mgr,
		OverridesDir: cfg.OverridesDir(),
		Store:        st,
		Events:       events,
		Logs:         ring,
		GetConfig:    func() *config.Config { return cfg },
		Self: func(r *http.Request) (*onebot.LoginInfo, error) {
			return client.GetLoginInfo(r.Context())
		},
		Logger:    logger.Named("api"),
		StartedAt: time.Now(),
	}
	srv := web.NewServer(cfg.WebUI.Listen, a, cfg.WebUI.Password, logger.Named("web"))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("amia started", "console", cfg.WebUI.Listen,
		"gateway", fmt.Sprintf("ws://%s:%d", cfg.OneBot.Host, cfg.OneBot.WSPort))

	<-sigCh
	logger.Info("shutting down")

	cancel()
	client.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("amia stopped")
}
