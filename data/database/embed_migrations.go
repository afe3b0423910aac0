package database

import "embed"

// MigrationFS holds the schema; applied by cmd/migrate or MIGRATE_ON_START.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
