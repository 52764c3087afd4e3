package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"diginetra/internal/logger"
	"diginetra/internal/repository/sqlite"
	"diginetra/internal/service/storage"
)

func main() {
	dbPath := flag.String("db", filepath.Join("data", "diginetra.db"), "Database path")
	eventsDir := flag.String("events", "events", "Directory containing event snapshots (for backfill)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] up|down|version|backfill\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	switch cmd {
	case "up":
		if err := db.MigrateUp(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		printVersion(db)
	case "down":
		if err := db.MigrateDown(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		printVersion(db)
	case "version":
		printVersion(db)
	case "backfill":
		if err := db.MigrateUp(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Backfilling events from %s\n", *eventsDir)
		snapshots := storage.NewSnapshotWriter(*eventsDir, logger.NewNop())
		res, err := backfill(sqlite.NewEventRepository(db), snapshots)
		if err != nil {
			log.Fatalf("Backfill failed: %v", err)
		}
		fmt.Printf("✅ Added %d events (%d already present)\n", res.Added, res.Existing)
		if res.Skipped > 0 {
			fmt.Printf("⚠️  Skipped %d files (invalid format or errors)\n", res.Skipped)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printVersion(db *sqlite.DB) {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("📦 Schema version: %d (dirty: %v)\n", version, dirty)
}
