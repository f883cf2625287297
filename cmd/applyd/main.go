// Applyd is the apply and deployment daemon for generated artifacts.
//
// The daemon exposes an HTTP API for registering projects, recording
// generator chat history, and applying batches of generated files. An
// apply validates the batch, updates the project's file state, persists
// the files to the artifact store with retries, reconciles the chat
// history, and for automated runs queues a deployment handoff.
//
// Configuration comes from an optional YAML file plus APPLYD_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (in-memory artifact store)
//	applyd
//
//	# Start with a config file
//	applyd -config /etc/applyd/config.yaml
//
//	# Configure via environment
//	APPLYD_SERVER_HTTP_PORT=8080 APPLYD_STORE_PROVIDER=http applyd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/apply"
	"github.com/fyrsmithlabs/applyd/internal/artifact"
	"github.com/fyrsmithlabs/applyd/internal/artifactstore"
	"github.com/fyrsmithlabs/applyd/internal/config"
	"github.com/fyrsmithlabs/applyd/internal/conversation"
	"github.com/fyrsmithlabs/applyd/internal/deploy"
	applyhttp "github.com/fyrsmithlabs/applyd/internal/http"
	"github.com/fyrsmithlabs/applyd/internal/logging"
	"github.com/fyrsmithlabs/applyd/internal/project"
	"github.com/fyrsmithlabs/applyd/internal/telemetry"
	"github.com/fyrsmithlabs/applyd/internal/tracker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  applyd [-config FILE]   Start the applyd daemon\n")
			fmt.Fprintf(os.Stderr, "  applyd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("applyd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the applyd server and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("Starting applyd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_provider", cfg.Store.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.Endpoint = cfg.Telemetry.Endpoint
	telCfg.ServiceName = cfg.Telemetry.ServiceName
	telCfg.ServiceVersion = version
	telCfg.Protocol = cfg.Telemetry.Protocol
	telCfg.Insecure = cfg.Telemetry.Insecure

	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("telemetry_enabled", tel.IsEnabled()),
		zap.String("history_path", cfg.History.Path))

	coord, err := initCoordinator(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize apply coordinator: %w", err)
	}
	defer coord.Close()

	srv, err := applyhttp.NewServer(coord, deps.projects, deps.files, deps.history, deps.store, logger, &applyhttp.Config{
		Port:        cfg.Server.Port,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	// Register metrics endpoint
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds the infrastructure the coordinator and server run on.
type dependencies struct {
	natsConn *nats.Conn
	tracker  tracker.Tracker
	history  *conversation.Store
	projects *project.Registry
	files    *project.FileRepository
	deploys  *deploy.Registry
	store    artifactstore.Client
	logger   *zap.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn("Closing history store failed", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initDependencies connects the workflow tracker, opens the history
// store, and selects the artifact store provider.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{
		tracker:  tracker.Nop(),
		projects: project.NewRegistry(),
		files:    project.NewFileRepository(),
		deploys:  deploy.NewRegistry(),
		logger:   logger,
	}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		trk, err := tracker.NewNATS(nc, logger)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create workflow tracker: %w", err)
		}
		deps.natsConn = nc
		deps.tracker = trk
		logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	history, err := conversation.Open(cfg.History.Path)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	deps.history = history

	switch cfg.Store.Provider {
	case "http":
		deps.store = artifactstore.NewHTTPClient(artifactstore.Config{
			BaseURL:           cfg.Store.BaseURL,
			APIKey:            cfg.Store.APIKey.Value(),
			Timeout:           cfg.Store.Timeout,
			RequestsPerSecond: cfg.Store.RequestsPerSecond,
		}, logger)
		logger.Info("Using hosted artifact store", zap.String("base_url", cfg.Store.BaseURL))
	default:
		deps.store = artifactstore.NewMemory()
		logger.Info("Using in-memory artifact store")
	}

	return deps, nil
}

// initCoordinator builds the apply pipeline from the loaded config.
func initCoordinator(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*apply.Coordinator, error) {
	applyCfg := apply.DefaultConfig()
	applyCfg.StabilityWindow = cfg.Apply.StabilityWindow
	applyCfg.ResetDelay = cfg.Apply.ResetDelay
	applyCfg.PendingClearDelay = cfg.Apply.PendingClearDelay
	applyCfg.StateRetry.MaxAttempts = cfg.Apply.StateMaxAttempts
	applyCfg.SaveRetry.MaxAttempts = cfg.Apply.SaveMaxAttempts
	applyCfg.SaveRetry.BaseDelay = cfg.Apply.SaveBaseDelay
	applyCfg.SaveRetry.MaxDelay = cfg.Apply.SaveMaxDelay
	applyCfg.SaveRetry.JitterMax = cfg.Apply.SaveJitterMax

	matcher := conversation.NewMatcher(deps.history, logger,
		conversation.WithScanLimit(cfg.History.ScanLimit),
		conversation.WithMaxCandidates(cfg.History.MaxCandidates))

	coord, err := apply.New(applyCfg, deps.store, deps.projects, deps.files, deps.deploys,
		deps.tracker, matcher, deps.history, logger)
	if err != nil {
		return nil, err
	}

	opts := []artifact.Option{artifact.WithLargeFileBytes(cfg.Apply.LargeFileBytes)}
	if cfg.Apply.ScanSecrets {
		scanner, err := artifact.NewLeakScanner(logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create secret scanner: %w", err)
		}
		opts = append(opts, artifact.WithSecretScanner(scanner))
		logger.Info("Secret scanning enabled for applied batches")
	}
	coord.SetValidator(artifact.NewValidator(opts...))

	return coord, nil
}
