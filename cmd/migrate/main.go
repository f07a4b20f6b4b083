package main

import (
	"context"
	"flag"
	"log"

	"github.com/lucra/lucra-backend/internal/config"
	"github.com/lucra/lucra-backend/internal/journal"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		log.Fatal("Usage: migrate COMMAND\n\nCommands:\n  up\n  down\n  reset\n  status")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.PostgresDSN == "" {
		log.Fatal("LCR_POSTGRES_DSN is not set")
	}

	if err := journal.Migrate(context.Background(), cfg.Database.PostgresDSN, args[0]); err != nil {
		log.Fatalf("%v", err)
	}
}
