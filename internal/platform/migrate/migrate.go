// Package migrate applies the embedded schema migrations with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/odyssey-erp/odyssey-rbac/migrations"
)

// MigrationsTable is the bookkeeping table used by golang-migrate.
const MigrationsTable = "rbac_schema_migrations"

// Status describes the schema version currently applied.
type Status struct {
	Version uint
	Dirty   bool
	Applied bool
}

// Migrator wraps a migrate instance bound to the embedded sources.
type Migrator struct {
	m *migrate.Migrate
}

// New opens a migrator for the given postgres URL.
func New(databaseURL string) (*Migrator, error) {
	return NewFromFS(migrations.FS, databaseURL)
}

// NewFromFS opens a migrator reading migrations from fsys.
func NewFromFS(fsys fs.FS, databaseURL string) (*Migrator, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("platform/migrate: database url required")
	}
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("platform/migrate: open source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, withMigrationsTable(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("platform/migrate: init: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (g *Migrator) Up() error {
	if err := g.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("platform/migrate: up: %w", err)
	}
	return nil
}

// Down rolls back the given number of migrations.
func (g *Migrator) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	if err := g.m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("platform/migrate: down: %w", err)
	}
	return nil
}

// Status reports the applied version.
func (g *Migrator) Status() (Status, error) {
	version, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("platform/migrate: version: %w", err)
	}
	return Status{Version: version, Dirty: dirty, Applied: true}, nil
}

// Close releases the source and database handles.
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}

func withMigrationsTable(databaseURL string) string {
	if strings.Contains(databaseURL, "x-migrations-table=") {
		return databaseURL
	}
	sep := "?"
	if strings.Contains(databaseURL, "?") {
		sep = "&"
	}
	return databaseURL + sep + "x-migrations-table=" + MigrationsTable
}
