// Package migrations embeds the schema of the variable store, one directory
// per SQL dialect. Files are applied in filename order by db.MigrateUp.
package migrations

import "embed"

// SqliteMigrations stores timestamps as RFC3339 text and booleans as integers.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

// PostgresMigrations mirrors the SQLite schema with native types.
//
//go:embed postgres/*.sql
var PostgresMigrations embed.FS
