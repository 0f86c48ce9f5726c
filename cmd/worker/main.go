package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/secapi/go-api/secapi/config"
	"github.com/secapi/go-api/secapi/postgres"
	"github.com/secapi/go-api/secapi/queue"
	"github.com/secapi/go-api/secapi/scanjob"
	"github.com/secapi/go-api/secapi/slogger"
	"github.com/secapi/go-api/secapi/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	slogger.Init("secapi-worker")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := postgres.Connect(postgres.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	kv, err := store.NewValkeyStore(cfg.Valkey.Addr)
	if err != nil {
		slog.Error("failed to connect to valkey", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	hostname, _ := os.Hostname()
	jobs := scanjob.NewRepository(db)
	ctrl := scanjob.NewController(jobs, kv, scanjob.ControllerConfig{
		WorkerID:          hostname,
		ScanTimeout:       cfg.Scan.Timeout,
		AllowedRegistries: cfg.Scan.AllowedRegistries,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers := cfg.Scan.Workers
	if workers < 1 {
		workers = 1
	}
	slog.Info("worker starting", "queue", cfg.Queue.Name, "workers", workers)

	handler := func(ctx context.Context, task queue.ScanTask) error {
		return ctrl.Execute(ctx, task.ScanID)
	}

	// Each consumer holds its own broker connection with one scan in flight
	// at a time (prefetch=1), so a long scan never starves redeliveries.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queue.New(cfg.Queue.URL, cfg.Queue.Name).ListenWithRetry(ctx, 1, handler)
		}()
	}

	wg.Wait()
	slog.Info("worker stopped")
}
