package main

import (
	"context"
	"flag"
	"os"
	"time"

	"festtix/internal/backend/postgres"
	"festtix/internal/cache"
	"festtix/internal/config"
	"festtix/internal/logger"
	"festtix/internal/repository"
	"festtix/internal/search"
	"festtix/internal/seed"
)

var (
	adminID = flag.String("admin", "", "Profile id to grant the admin role")
	dryRun  = flag.Bool("dry-run", false, "Show what would be created without making changes")
)

func main() {
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	log.Info("Starting catalog seeder...")

	pg, db, err := postgres.Open(cfg.Database, postgres.ListenerConfig{})
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer db.Close()
	defer pg.Close()

	opts := seed.Options{AdminID: *adminID, DryRun: *dryRun}
	if cfg.Elasticsearch.Enabled() {
		es, err := search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			log.Error("Skipping search indexing", "error", err)
		} else {
			opts.Index = es
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := seed.Run(ctx, repository.NewRepositories(pg), opts)
	if err != nil {
		log.Error("Seeding failed", "error", err)
		os.Exit(1)
	}

	// the API caches the catalog list; drop it so new events show up
	if cfg.Valkey.Addr != "" && !*dryRun && result.Created > 0 {
		valkey, err := cache.NewValkeyClient(cache.Config{Addr: cfg.Valkey.Addr, Password: cfg.Valkey.Password})
		if err != nil {
			log.Warn("Could not reach catalog cache", "error", err)
		} else {
			if err := valkey.Invalidate(ctx); err != nil {
				log.Warn("Failed to invalidate catalog cache", "error", err)
			}
			valkey.Close()
		}
	}

	log.Info("Catalog seeding completed", "created", result.Created, "skipped", result.Skipped, "dry_run", *dryRun)
}
