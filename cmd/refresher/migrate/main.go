package main

import (
	"flag"
	"log"

	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/senate-indexer/pkg/config"
	"github.com/chainsafe/senate-indexer/pkg/migrations/ingestdb"
	"github.com/chainsafe/senate-indexer/pkg/pgutil"
	mghelper "github.com/chainsafe/senate-indexer/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.example.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}

	logger, err := config.NewLogger(cfg.Logging, "migrate")
	if err != nil {
		log.Fatalf("error creating logger: %s", err.Error())
	}
	defer func() { _ = logger.Sync() }()

	db, err := pgutil.ConnectDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err.Error())
	}
	defer db.Close()

	log.Printf("Running migrations for the governance database (%s)...\n", cfg.Database.Database)

	migrator := migrate.NewMigrator(db, ingestdb.Migrations)
	if err := mghelper.RunMigrations(migrator, flag.Args()...); err != nil {
		mghelper.Exitf(err.Error())
	}
}
