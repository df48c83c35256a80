package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-sync/internal/api"
	"collab-sync/internal/collab"
	"collab-sync/internal/config"
	"collab-sync/internal/db"
	"collab-sync/internal/docmodel/richtext"
	"collab-sync/internal/logger"
	"collab-sync/internal/repository"
	"collab-sync/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

/*
LEARNING: GRACEFUL SHUTDOWN ORDER

  stop accepting HTTP → close sockets → flush pending snapshots → drain archive → close storage

Snapshots are written last-state-wins, so flushing after every socket is closed
persists the final version of each document exactly once.
*/

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.LogEnv,
		File:        cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("starting collab-sync", "storage", cfg.StorageBackend, "addr", cfg.Addr())

	if cfg.TracingEnabled {
		shutdownTracing, err := telemetry.InitJaeger("collab-sync", cfg.JaegerEndpoint)
		if err != nil {
			log.Warn("failed to initialize jaeger, continuing without tracing", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					log.Warn("failed to shutdown jaeger", "error", err)
				}
			}()
		}
	}

	store, archive, closeStorage, err := openStorage(cfg)
	if err != nil {
		log.Error("failed to open storage", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer closeStorage()

	var archiver *collab.Archiver
	if archive != nil {
		archiver = collab.NewArchiver(archive, collab.ArchiverOptions{
			Workers:   cfg.ArchiveWorkers,
			QueueSize: cfg.ArchiveQueueSize,
			Retention: cfg.ArchiveRetention,
		})
	}

	manager := collab.NewSessionManager(richtext.NewSchema(), store, archiver, collab.ManagerOptions{
		Registry: collab.RegistryOptions{
			Instance:      collab.InstanceOptions{MaxSteps: cfg.StepRetention},
			IdleTimeout:   cfg.IdleTimeout,
			SweepInterval: cfg.EvictionInterval,
		},
		SaveDelay:         cfg.SaveDebounce,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	manager.Start()

	var auth collab.Authenticator = collab.AnonymousAuthenticator{}
	if cfg.AuthSecret != "" {
		auth = collab.NewJWTAuthenticator(cfg.AuthSecret)
	} else {
		log.Warn("AUTH_SECRET not set, accepting anonymous connections")
	}

	handler := api.NewHandler(manager, collab.NewWebSocketHandler(manager, auth), cfg.PushAPIKey)
	router := api.SetupRoutes(handler)

	// No write timeout: websocket connections are long-lived.
	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("server listening",
			"addr", cfg.Addr(),
			"websocket", "/ws/documents/{id}?scopeId=",
			"metrics", "/metrics",
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("server forced to shutdown", "error", err)
	}
	manager.Shutdown(ctx)

	log.Info("server shutdown complete")
}

// openStorage builds the snapshot store for the configured backend. The step
// archive is only available with postgres.
func openStorage(cfg *config.Config) (collab.SnapshotStore, collab.StepArchive, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		database, err := db.NewGorm(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := database.Close(); err != nil {
				logger.L().Warn("failed to close database", "error", err)
			}
		}
		return repository.NewSnapshotRepository(database.DB), repository.NewStepRepository(database.DB), closeFn, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.L().Info("redis connected", "addr", cfg.RedisAddr)
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.L().Warn("failed to close redis", "error", err)
			}
		}
		return repository.NewRedisSnapshotStore(client), nil, closeFn, nil

	default:
		logger.L().Warn("using in-memory storage, documents are lost on restart")
		return repository.NewMemorySnapshotStore(), nil, func() {}, nil
	}
}
