/*-------------------------------------------------------------------------
 *
 * migrations.go
 *    Embedded schema migrations
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/db/migrations.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/neurondb/NeuronLedger/internal/metrics"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

/* MigrationRunner applies the embedded migrations */
type MigrationRunner struct {
	databaseURL string
}

/* NewMigrationRunner creates a runner for a postgres:// URL */
func NewMigrationRunner(databaseURL string) *MigrationRunner {
	return &MigrationRunner{databaseURL: databaseURL}
}

func (r *MigrationRunner) open() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: error=%w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, r.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: error=%w", err)
	}
	return m, nil
}

/* Run applies all pending up migrations */
func (r *MigrationRunner) Run(ctx context.Context) error {
	m, err := r.open()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: error=%w", err)
	}

	version, dirty, verr := m.Version()
	if verr == nil {
		metrics.InfoWithContext(ctx, "Database migrations applied", map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		})
	}
	return nil
}

/* Down rolls back every migration */
func (r *MigrationRunner) Down(ctx context.Context) error {
	m, err := r.open()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: error=%w", err)
	}
	return nil
}
