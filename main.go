package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-detect/internal/ai"
	"github.com/vzahanych/view-guard-detect/internal/config"
	"github.com/vzahanych/view-guard-detect/internal/health"
	"github.com/vzahanych/view-guard-detect/internal/history"
	"github.com/vzahanych/view-guard-detect/internal/logger"
	"github.com/vzahanych/view-guard-detect/internal/metrics"
	"github.com/vzahanych/view-guard-detect/internal/service"
	"github.com/vzahanych/view-guard-detect/internal/training"
	"github.com/vzahanych/view-guard-detect/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath, envFile string

	rootCmd := &cobra.Command{
		Use:           "detectd",
		Short:         "Object detection and training-data API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before configuration")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "detectd %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		},
	})

	return rootCmd
}

// run wires the components, serves until ctx is cancelled and shuts down gracefully
func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting detectd",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// The store is optional. A nil interface puts history in degraded mode.
	var store history.DocumentStore
	sqlStore, err := history.OpenStore(ctx, history.StoreConfig{
		URL:        cfg.History.URL,
		Database:   cfg.History.Database,
		Collection: cfg.History.Collection,
	})
	if err != nil {
		log.Warn("History store unavailable, running without event persistence", "error", err)
	} else {
		log.Info("History store opened", "path", sqlStore.Path(), "collection", cfg.History.Collection)
		store = sqlStore
	}

	events := history.NewEventLogger(store, cfg.History.WriteTimeout, log, m)
	reader := history.NewReader(store, cfg.History.DefaultLimit, cfg.History.MaxLimit, log)

	detector := ai.NewHTTPDetector(ai.ClientConfig{
		ServiceURL: cfg.Model.ServiceURL,
		Timeout:    cfg.Model.Timeout,
	}, log)
	model := ai.NewModel(ctx, detector, ai.ModelConfig{
		ID:       cfg.Model.ID,
		Workers:  cfg.Model.Workers,
		LoadWait: cfg.Model.Timeout,
	}, log, m)
	if !model.Available() {
		log.Warn("Detection model unavailable, detection endpoints will return 503",
			"model", cfg.Model.ID,
			"error", model.LoadError(),
		)
	}

	ingestor, err := training.NewIngestor(cfg.Training.UploadDir, cfg.Training.ChunkSize, events, log, m)
	if err != nil {
		return fmt.Errorf("failed to initialize training ingestor: %w", err)
	}
	ingestor.SetDiskMonitor(training.NewDiskMonitor(ingestor.Root(), cfg.Training.MaxDiskUsagePercent))

	svcMgr := service.NewManager(log)

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewModelChecker(model, detector))
	healthMgr.RegisterChecker(health.NewStoreChecker(store))
	healthMgr.RegisterChecker(health.NewUploadDirChecker(ingestor))

	server := web.NewServer(&cfg.Server, log)
	server.SetVersion(version)
	server.SetDetectionDependencies(model, events)
	server.SetHistoryReader(reader)
	server.SetTrainingIngestor(ingestor)
	server.SetHealthReporter(healthMgr)
	server.SetMetrics(m)

	// Stopped in reverse order: the server drains requests before the
	// model and event logger are released.
	svcMgr.Register(events)
	svcMgr.Register(model)
	svcMgr.Register(server)

	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		return err
	}

	log.Info("Shutdown complete")
	return nil
}
