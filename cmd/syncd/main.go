// Command syncd runs the offline-first sync daemon: it keeps a local
// replica of the central server's data, serves a loopback control API,
// and reconciles the two sides whenever the server is reachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/storesync/client/internal/config"
	"github.com/storesync/client/internal/connectivity"
	"github.com/storesync/client/internal/datasource"
	"github.com/storesync/client/internal/handlers"
	"github.com/storesync/client/internal/localstore"
	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/observability"
	"github.com/storesync/client/internal/remote"
	"github.com/storesync/client/internal/repository"
	"github.com/storesync/client/internal/services"
	"github.com/storesync/client/internal/syncengine"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("daemon exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    "syncd",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		log.Warn("metrics unavailable", zap.Error(err))
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer store.Close()
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	log.Info("local store ready", zap.String("engine", cfg.Store.Engine))

	client := remote.NewClient(cfg.Remote.BaseURL,
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithRetry(cfg.Remote.MaxRetries, cfg.Remote.RetryDelay),
		remote.WithLogger(log.Named("remote")),
	)

	checker := connectivity.NewChecker(client,
		cfg.Health.Attempts, cfg.Health.RetryDelay, cfg.Health.Interval,
		log.Named("connectivity"))

	settings := repository.NewSettingsRepository(store)
	users := repository.NewUserRepository(store)

	manager := datasource.NewManager(checker, settings, cfg.Remote.BaseURL, log.Named("datasource"))

	hub := services.NewPushHub(log.Named("push"))
	go hub.Run()

	manager.Subscribe(func(state models.ConnectionState) {
		hub.Publish(services.TopicConnection, services.Event{
			Type:    services.EventConnectionState,
			Payload: state,
		})
		if state.Status == models.ConnStatusOnline || state.Status == models.ConnStatusOffline {
			metrics.RecordCheck(context.Background(), state.Status == models.ConnStatusOnline)
		}
	})

	engine := syncengine.NewEngine(store, client, checker, settings, log.Named("sync"),
		syncengine.WithBatchSize(cfg.Sync.BatchSize),
		syncengine.WithPageSize(cfg.Sync.PageSize),
		syncengine.WithOnSummary(func(summary models.SyncSummary) {
			hub.Publish(services.TopicSync, services.Event{
				Type:    services.EventSyncFinished,
				Payload: summary,
			})
			metrics.RecordSyncRun(context.Background(),
				summary.Success, summary.RecordsProcessed, summary.ErrorCount, summary.Duration)
		}),
	)

	auth := services.NewAuthService(client, users, engine, log.Named("auth"))

	manager.StartMonitoring()
	defer manager.StopMonitoring()

	var scheduler *syncengine.Scheduler
	if cfg.Sync.Scheduled {
		scheduler = syncengine.NewScheduler(engine, cfg.Sync.Interval, log.Named("scheduler"))
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	router := handlers.NewRouter(
		handlers.NewHealthHandler(),
		handlers.NewDataSourceHandler(manager, engine),
		handlers.NewSyncHandler(engine),
		handlers.NewAuthHandler(auth, metrics, log.Named("auth")),
		handlers.NewWebSocketHandler(hub, log.Named("ws")),
		cfg.Server.APIKey,
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 16 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("control API listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control API: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(cfg config.StoreConfig) (localstore.Store, error) {
	switch cfg.Engine {
	case "postgres":
		return localstore.NewPostgresStore(cfg.PostgresURL)
	default:
		return localstore.NewSQLiteStore(cfg.SQLitePath)
	}
}
