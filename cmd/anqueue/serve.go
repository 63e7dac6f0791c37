package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/anqueue/anqueue/internal/adapter"
	"github.com/anqueue/anqueue/internal/config"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/queue"
	"github.com/anqueue/anqueue/internal/worker"
)

var (
	serveConfigPath string
	serveLogLevel   string
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Anqueue controller",
	Long: `Start the Anqueue controller: load configuration, wire the
persistence adapter, spawn the worker pool, and run the dispatch loop
until a shutdown signal arrives.`,
	Run: serveHandler,
}

func serveHandler(cmd *cobra.Command, args []string) {
	if err := config.LoadEnvOptional("./.env"); err != nil {
		fmt.Printf("failed to load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := serveConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Println("configuration validation failed:")
		for _, e := range errs {
			fmt.Printf("  - %v\n", e)
		}
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adp, closeAdapter, err := buildAdapter(ctx, cfg.Adapter, log)
	if err != nil {
		log.Error("failed to initialize adapter", err)
		os.Exit(1)
	}
	if closeAdapter != nil {
		defer closeAdapter()
	}

	launcher, err := buildLauncher(cfg.Launcher)
	if err != nil {
		log.Error("failed to initialize launcher", err)
		os.Exit(1)
	}

	q, err := queue.New(queue.Config{
		ID:                 cfg.Queue.ID,
		TaskDir:            cfg.Queue.TaskDirPath(),
		MaxWorkers:         cfg.Queue.MaxWorkers,
		WorkerPrefix:       cfg.Queue.WorkerPrefix,
		MaxConcurrentTasks: cfg.Queue.MaxConcurrentTasks,
		DispatchInterval:   time.Duration(cfg.Queue.DispatchIntervalMS) * time.Millisecond,
		MaxTaskRetries:     cfg.Queue.MaxTaskRetries,
		TaskTimeout:        time.Duration(cfg.Queue.TaskTimeoutMS) * time.Millisecond,
		Launcher:           launcher,
	}, adp, log)
	if err != nil {
		log.Error("failed to initialize queue", err)
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		if err := q.Metrics().Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("prometheus metrics already registered", logger.Field{Key: "error", Value: err.Error()})
		}
		go serveMetrics(cfg.Metrics.Addr, cfg.Metrics.Path, log)
	}

	if err := q.Init(ctx); err != nil {
		log.Error("failed to sync queue with persisted tasks", err)
		os.Exit(1)
	}
	q.SetDatabase(adp != nil)

	log.Info("anqueue controller starting",
		logger.Field{Key: "version", Value: Version},
		logger.Field{Key: "taskDir", Value: cfg.Queue.TaskDirPath()},
		logger.Field{Key: "maxWorkers", Value: cfg.Queue.MaxWorkers},
		logger.Field{Key: "adapter", Value: cfg.Adapter.Driver})

	go q.RunAutomatically(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received shutdown signal", logger.Field{Key: "signal", Value: sig.String()})

	cancel()
	q.Stop()
	log.Info("anqueue controller stopped")
}

func buildAdapter(ctx context.Context, cfg config.AdapterConfig, log *logger.Logger) (adapter.Adapter, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return nil, nil, nil
	case "jsonl":
		return adapter.NewJSONLAdapter(cfg.Path, log), nil, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres (%s): %w", config.MaskDSN(cfg.DSN), err)
		}
		pg := adapter.NewPostgresAdapter(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown adapter driver: %s", cfg.Driver)
	}
}

func buildLauncher(cfg config.LauncherConfig) (worker.Launcher, error) {
	switch cfg.Kind {
	case "", "exec":
		return worker.NewExecLauncher(cfg.BinPath), nil
	case "docker":
		return worker.NewDockerLauncher(cfg.DockerImage, nil)
	default:
		return nil, fmt.Errorf("unknown launcher kind: %s", cfg.Kind)
	}
}

func serveMetrics(addr, path string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	log.Info("metrics listener started", logger.Field{Key: "addr", Value: addr}, logger.Field{Key: "path", Value: path})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics listener stopped", err)
	}
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to configuration file (default: ./anqueue.toml)")
	serveCmd.Flags().StringVarP(&serveLogLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")
}
