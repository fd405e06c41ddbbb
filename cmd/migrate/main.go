package main

// Run database migrations:
//   go run ./cmd/migrate            # up
//   go run ./cmd/migrate -command status

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"meetingapp-backend/internal/shared/config"
	"meetingapp-backend/internal/shared/storage/db"
)

func main() {
	command := flag.String("command", db.MigrateUp, "goose command: up, down, status or version")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall migration timeout")
	flag.Parse()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.Migrate(ctx, sqlDB, *command); err != nil {
		log.Printf("migrate %s failed: %v", *command, err)
		sqlDB.Close()
		os.Exit(1)
	}
	log.Printf("migrate %s done", *command)
}
