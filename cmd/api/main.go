package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/secapi/go-api/secapi/api"
	"github.com/secapi/go-api/secapi/config"
	"github.com/secapi/go-api/secapi/postgres"
	"github.com/secapi/go-api/secapi/queue"
	"github.com/secapi/go-api/secapi/scanjob"
	"github.com/secapi/go-api/secapi/slogger"
	"github.com/secapi/go-api/secapi/store"
	"github.com/secapi/go-api/secapi/user"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	slogger.Init("secapi-api")

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

	jobs := scanjob.NewRepository(db)
	users := user.NewService(db, kv)
	pub := queue.New(cfg.Queue.URL, cfg.Queue.Name)

	srv := api.New(cfg, jobs, users, pub)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
