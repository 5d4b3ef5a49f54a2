// Package ingestdb holds all the migrations for the governance ingestion database
package ingestdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the ingestion database
var Migrations = migrate.NewMigrations()
