package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/topasiaedu/transcribe-upload/internal/config"
	"github.com/topasiaedu/transcribe-upload/internal/logger"
	"github.com/topasiaedu/transcribe-upload/internal/migrate"
	"github.com/topasiaedu/transcribe-upload/internal/storage"
)

func main() {
	ctx := context.Background()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|validate")
	flag.Parse()

	if *cmd == "validate" {
		if err := migrate.ValidateEmbedded(); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.Service.LogLevel),
		Format:      cfg.Service.LogFormat,
	})
	ctx = log.WithFields(ctx, map[string]any{
		"cmd":    *cmd,
		"driver": cfg.DB.Driver,
	})

	store, err := storage.NewSQLStore(ctx, cfg.DB.Driver, cfg.GetDSN())
	if err != nil {
		log.Error(ctx, "database not reachable", err)
		os.Exit(1)
	}
	defer store.Close()

	switch *cmd {
	case "up", "down", "status":
		if err := migrate.Run(ctx, store.DB(), cfg.DB.Driver, *cmd); err != nil {
			log.Error(ctx, "migration failed", err)
			store.Close()
			os.Exit(1)
		}
		log.Info(ctx, "migration finished")
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		store.Close()
		os.Exit(1)
	}
}
