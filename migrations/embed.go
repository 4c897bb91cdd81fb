// Package migrations embeds the project store's SQL migrations, one
// directory per dialect. Files run in name order and each runs once.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// SQLite returns the migrations for the embedded SQLite store.
func SQLite() fs.FS { return sub("sqlite") }

// Postgres returns the migrations for the Postgres store.
func Postgres() fs.FS { return sub("postgres") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		// Only reachable if the embed pattern above changes.
		panic(err)
	}
	return f
}
