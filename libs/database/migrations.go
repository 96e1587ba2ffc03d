package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies every pending up-migration to db. An empty
// migrationsPath uses the embedded migration set baked into the binary;
// a non-empty path overrides it with an on-disk migration directory.
func RunMigrations(db *sql.DB, migrationsPath string) error {
	dbDriver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("database: migration driver: %w", err)
	}

	var m *migrate.Migrate
	if migrationsPath != "" {
		m, err = migrate.NewWithDatabaseInstance("file://"+migrationsPath, "pgx", dbDriver)
	} else {
		var sourceDriver source.Driver
		sourceDriver, err = iofs.New(embeddedMigrations, "migrations")
		if err != nil {
			return fmt.Errorf("database: embedded migration source: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", sourceDriver, "pgx", dbDriver)
	}
	if err != nil {
		return fmt.Errorf("database: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database: apply migrations: %w: %w", ErrMigrationFailed, err)
	}
	return nil
}
