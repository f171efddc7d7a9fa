package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facereg/internal/config"
	"github.com/your-org/facereg/internal/ingest"
	"github.com/your-org/facereg/internal/observability"
	"github.com/your-org/facereg/internal/queue"
	"github.com/your-org/facereg/internal/registry"
	"github.com/your-org/facereg/internal/service"
	"github.com/your-org/facereg/internal/storage"
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

	if cfg.NATS.URL == "" {
		slog.Error("proposal worker requires nats.url")
		os.Exit(1)
	}

	slog.Info("starting proposal worker",
		"workers", cfg.NATS.ProposalWorkers,
		"registry", cfg.Registry.Path,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var faces ingest.FaceWriter
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
		faces = db
	}

	fileOpts := []storage.FileStoreOption{storage.WithLockTimeout(cfg.Registry.LockTimeout)}
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		fileOpts = append(fileOpts, storage.WithBackupMirror(minioStore))
	}

	producer, err := queue.NewProducer(cfg.NATS.URL, "worker")
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	svc := service.New(cfg.Registry.Path, cfg.Registry.BackupDir,
		registry.MultiSink{observability.MetricsSink{}, producer},
		registry.WithFileStore(storage.NewFileStore(fileOpts...)),
	)
	ingestor := ingest.NewProposalIngestor(svc, faces)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeProposals(ctx, "registry-workers", ingestor.HandleMessage, cfg.NATS.ProposalWorkers); err != nil {
		slog.Error("start proposal consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		slog.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report the proposal backlog
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.PendingProposals(ctx)
				if err == nil {
					observability.PendingProposals.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
