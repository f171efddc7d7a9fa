package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facereg/internal/api"
	"github.com/your-org/facereg/internal/api/handlers"
	"github.com/your-org/facereg/internal/api/ws"
	"github.com/your-org/facereg/internal/config"
	"github.com/your-org/facereg/internal/fusion"
	"github.com/your-org/facereg/internal/observability"
	"github.com/your-org/facereg/internal/queue"
	"github.com/your-org/facereg/internal/registry"
	"github.com/your-org/facereg/internal/service"
	"github.com/your-org/facereg/internal/storage"
	"github.com/your-org/facereg/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting identity registry API", "port", cfg.Server.Port, "registry", cfg.Registry.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.ReadinessCheck{}
	fileOpts := []storage.FileStoreOption{storage.WithLockTimeout(cfg.Registry.LockTimeout)}

	// Postgres holds embeddings and the face → photo index.
	var (
		photos     registry.PhotoRegistry
		embeddings fusion.EmbeddingStore
	)
	if cfg.Database.Enabled() {
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Warn("ensure postgres schema", "error", err)
		}
		photos, embeddings = db, db
		checks["postgres"] = db.Ping
	} else {
		slog.Warn("no database configured: merge and fusion endpoints are unavailable")
	}

	// MinIO mirrors registry backups offsite.
	var backups handlers.BackupLister
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		fileOpts = append(fileOpts, storage.WithBackupMirror(minioStore))
		backups = minioStore
		checks["minio"] = minioStore.Ping
		go pruneBackups(ctx, minioStore, cfg.MinIO.KeepBackups)
	}

	hub := ws.NewHub()
	go hub.Run()

	// With NATS, registry events go out on JetStream and the hub follows the
	// stream, so events from the worker reach WebSocket clients too.
	sink := registry.MultiSink{observability.MetricsSink{}, hub}
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL, "api")
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		checks["nats"] = func(context.Context) error { return producer.Ping() }
		sink = registry.MultiSink{observability.MetricsSink{}, producer}

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		err = consumer.ConsumeEvents(ctx, "api-ws", func(ctx context.Context, msg jetstream.Msg) error {
			var evt dto.RegistryEvent
			if err := json.Unmarshal(msg.Data(), &evt); err != nil {
				slog.Warn("drop malformed registry event", "subject", msg.Subject(), "error", err)
				return nil
			}
			hub.BroadcastEvent(evt)
			return nil
		})
		if err != nil {
			slog.Warn("start registry event consumer", "error", err)
		}
	}

	svc := service.New(cfg.Registry.Path, cfg.Registry.BackupDir, sink,
		registry.WithFileStore(storage.NewFileStore(fileOpts...)),
	)

	router := api.NewRouter(api.RouterConfig{
		APIKeys:    cfg.Server.APIKeys,
		Identities: handlers.NewIdentityHandler(svc, photos, embeddings, cfg.Fusion),
		System:     handlers.NewSystemHandler(svc, checks, backups),
		Hub:        hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// pruneBackups trims the offsite backup mirror to the newest keep objects every hour.
func pruneBackups(ctx context.Context, store *storage.MinIOStore, keep int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.PruneBackups(ctx, keep)
			if err != nil {
				slog.Warn("prune registry backups", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("pruned registry backups", "deleted", deleted, "kept", keep)
			}
		}
	}
}
