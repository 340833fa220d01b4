// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
package migrations

import (
	"embed"
	"io/fs"
)

// FS is the embedded migrations filesystem, one directory per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS

// Postgres returns the Postgres migrations (e.g. 001_records.sql).
func Postgres() fs.FS { return sub("postgres") }

// SQLite returns the SQLite migrations.
func SQLite() fs.FS { return sub("sqlite") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(FS, dir)
	if err != nil {
		panic(err) // dir is a compile-time constant covered by the embed pattern
	}
	return f
}
