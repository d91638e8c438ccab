package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shmux/shmux/internal/config"
	"github.com/shmux/shmux/internal/eval"
	"github.com/shmux/shmux/internal/logging"
	"github.com/shmux/shmux/internal/monitoring"
	"github.com/shmux/shmux/internal/mux"
	"github.com/shmux/shmux/internal/server"
	"github.com/shmux/shmux/internal/signals"
	"github.com/shmux/shmux/internal/state"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", "", "control API listen address (overrides SHMUX_ADDR)")
	shellConfig := flag.String("shell-config", "", "shell configuration file (overrides SHMUX_SHELL_CONFIG)")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *shellConfig != "" {
		cfg.Shell.ConfigPath = *shellConfig
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log = logging.NewDefault()
	}
	defer log.Sync()

	metrics := monitoring.NewMetrics(nil)

	store := state.NewStore(log,
		state.WithMergeHook(metrics.IncMerge),
		state.WithRecoveryHook(func(string) { metrics.IncStateRecovery() }),
	)
	if cfg.Shell.ConfigPath != "" {
		if err := state.ApplyConfigFile(store, cfg.Shell.ConfigPath); err != nil {
			log.Warn("shell config not loaded",
				zap.String("path", cfg.Shell.ConfigPath), zap.Error(err))
		}
	}

	mgr := mux.NewManager(mux.Config{
		Store:            store,
		Evaluator:        eval.NewInterpFactory(),
		Log:              log,
		Metrics:          metrics,
		MaxSessions:      cfg.Mux.MaxSessions,
		SignalQueueDepth: cfg.Mux.SignalQueueDepth,
		ScrollbackBytes:  cfg.Mux.ScrollbackBytes,
		Cols:             cfg.Shell.Cols,
		Rows:             cfg.Shell.Rows,
	})

	router := signals.New(func() (signals.Target, string, bool) {
		sess, sid, ok := mgr.Foreground()
		if !ok {
			return nil, "", false
		}
		return sess, sid.String(), true
	}, log, metrics)
	router.Start()

	srv := server.New(server.Config{
		Addr:      cfg.Server.Addr,
		RateLimit: cfg.RateLimit,
	}, mgr, store, metrics, log)

	log.Info("shmux starting", zap.String("addr", cfg.Server.Addr))

	// SIGINT belongs to the foreground session via the router; the daemon
	// itself winds down on SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	code := 0
	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("server error", zap.Error(err))
			code = 1
		}
	}

	if err := srv.Close(); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
		code = 1
	}
	router.Stop()
	if err := mgr.Shutdown(); err != nil {
		log.Error("session teardown failed", zap.Error(err))
		code = 1
	}
	return code
}
