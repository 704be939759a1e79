// Package database runs schema migrations at startup.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies all pending migrations from migrationsPath. A dirty
// state left by a crashed previous run is rolled back one version and
// retried once.
func RunMigrations(db *sql.DB, migrationsPath string, logger *slog.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	err = m.Up()
	switch {
	case err == nil:
		// fallthrough to the version log below
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("Schema is up to date")
		return nil
	case strings.Contains(err.Error(), "Dirty database"):
		if err := recoverDirty(m, logger); err != nil {
			return err
		}
	default:
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Schema migrated", "version", version, "dirty", dirty)
	return nil
}

func recoverDirty(m *migrate.Migrate, logger *slog.Logger) error {
	version, dirty, err := m.Version()
	if err != nil || !dirty || version == 0 {
		return fmt.Errorf("unrecoverable dirty migration state at version %d", version)
	}

	logger.Warn("Dirty migration state, rolling back one version and retrying", "version", version)
	if err := m.Force(int(version) - 1); err != nil {
		return fmt.Errorf("force migration version %d: %w", version-1, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("retry migrations after dirty recovery: %w", err)
	}
	return nil
}
