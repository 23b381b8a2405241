package postgres

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// Migrations returns the cart schema migrations for database.RunMigrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		// The embedded directory always exists.
		panic(err)
	}
	return sub
}
