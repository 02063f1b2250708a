package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cyclab/aurora/internal/audit"
	"github.com/cyclab/aurora/internal/classify"
	"github.com/cyclab/aurora/internal/config"
	"github.com/cyclab/aurora/internal/controlplane"
	"github.com/cyclab/aurora/internal/executors"
	"github.com/cyclab/aurora/internal/executors/procexec"
	"github.com/cyclab/aurora/internal/executors/simcell"
	"github.com/cyclab/aurora/internal/metrics"
	"github.com/cyclab/aurora/internal/scheduler"
	"github.com/cyclab/aurora/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Aurora daemon",
	Long:  `Starts the Aurora daemon: the HTTP API, the metrics endpoint, and the job scheduler.`,
	RunE:  runDaemon,
}

var (
	daemonListen string
	daemonDB     string
)

func init() {
	daemonCmd.Flags().StringVar(&daemonListen, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&daemonDB, "db", "", "Path to SQLite database (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if daemonListen != "" {
		cfg.ListenAddr = daemonListen
	}
	if daemonDB != "" {
		cfg.DBPath = daemonDB
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting aurora daemon",
		zap.String("listen", cfg.ListenAddr),
		zap.String("db", cfg.DBPath))

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	trail, err := audit.NewTrail(s, cfg.Audit.TrailPath)
	if err != nil {
		s.Close()
		return err
	}

	registry := executors.NewRegistry()
	if err := registry.Register(simcell.New()); err != nil {
		s.Close()
		return err
	}
	if err := registry.Register(procexec.New(nil)); err != nil {
		s.Close()
		return err
	}

	classifier := classify.New(classify.Options{
		AbsoluteTolerance: cfg.Tolerance.Absolute,
		RelativeTolerance: cfg.Tolerance.Relative,
	})

	m := metrics.New()

	service := controlplane.NewService(s, trail, registry, classifier, controlplane.Options{
		WorkRoot:     cfg.WorkRoot,
		RecordStates: cfg.RecordStatesEnabled(),
		Metrics:      m,
		Logger:       logger,
	})
	server := controlplane.NewServer(service, cfg.ListenAddr, cfg.APIToken, logger)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: m.Handler(),
	}

	sched := scheduler.New(s, service, cfg.Scheduler, m, logger)
	sched.Start()

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sched.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api shutdown", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()

	if closeErr := s.Close(); closeErr != nil {
		logger.Warn("store close", zap.Error(closeErr))
	}
	logger.Info("shutdown complete")
	return err
}
