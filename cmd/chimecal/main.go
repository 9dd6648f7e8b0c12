package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chimecal/internal/config"
	appLog "chimecal/internal/log"
	"chimecal/internal/notify"
	"chimecal/internal/reminder"
	"chimecal/internal/storage"
	"chimecal/internal/store"
	"chimecal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	dataDir    string
	once       bool
	mockNotify bool
	debug      bool
}

func main() {
	appLog.Info("chimecal starting", "version", "0.1.0")

	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// Precedence: CLI flag > environment > config file.
	if v := os.Getenv("CHIMECAL_LISTEN"); v != "" {
		conf.Listen = v
	}
	if v := os.Getenv("CHIMECAL_DATA_DIR"); v != "" {
		conf.DataDir = v
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dataDir != "" {
		conf.DataDir = flags.dataDir
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"data_dir", conf.DataDir,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"reminder_cron", conf.ReminderCron,
		"notifications", conf.Notifications,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("chimecal failed", err)
		os.Exit(1)
	}

	appLog.Info("chimecal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	// Local cancel so an HTTP failure also tears down the evaluator.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	kv, err := storage.NewFileKV(conf.DataDir)
	if err != nil {
		return err
	}
	adapter := storage.NewAdapter(kv)

	events := adapter.LoadEvents()
	appLog.Info("events loaded", "event_count", len(events), "theme", adapter.LoadTheme())

	st := store.New(adapter, events)
	defer st.Close()

	var sink notify.Sink
	if flags.mockNotify {
		sink = notify.NewMockSink(conf.Notifications)
	} else {
		sink = notify.NewDesktopSink(conf.Notifications)
	}

	eval := reminder.New(st, sink)

	if flags.once {
		// Single evaluation pass for external schedulers; no HTTP.
		if sink.PermissionState() == notify.PermissionDefault {
			sink.RequestPermission(ctx)
		}
		eval.Tick(time.Now())
		return nil
	}

	// Evaluator loop.
	evalDone := make(chan error, 1)
	go func() {
		evalDone <- eval.Run(ctx, conf.ReminderCron)
	}()

	// HTTP API.
	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, st, adapter, eval).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpDone := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpDone <- err
			return
		}
		httpDone <- nil
	}()

	var runErr error
	evalFinished := false

	select {
	case <-ctx.Done():
	case runErr = <-httpDone:
	case runErr = <-evalDone:
		evalFinished = true
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}

	// Wait for the evaluator's cron to tear down.
	if !evalFinished {
		if err := <-evalDone; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./chimecal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dataDir, "data-dir", "", "Data directory (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one reminder evaluation pass and exit")
	flag.BoolVar(&cfg.mockNotify, "mock-notify", false, "Log notifications instead of displaying them")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
