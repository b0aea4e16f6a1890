// Package migrate applies the embedded schema migrations using golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"lab-access/backend/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned by the underlying migrator when already at the target version.
// Run swallows it; it is exported for callers that use Steps.
var ErrNoChange = migrate.ErrNoChange

// Directions accepted by Run.
const (
	Up   = "up"
	Down = "down"
)

func open(dsn string) (*migrate.Migrate, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

// Run applies all migrations in direction ("up" or "down") using dsn.
// Already being at the target version is not an error.
func Run(dsn string, direction string) error {
	if direction != Up && direction != Down {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if direction == Up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Steps applies n migrations; negative n rolls back. Returns ErrNoChange when there is nothing to apply.
func Steps(dsn string, n int) error {
	if n == 0 {
		return errors.New("steps must be non-zero")
	}
	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	return m.Steps(n)
}

// Version reports the current schema version and whether the last migration left it dirty.
// A database with no applied migrations reports version 0.
func Version(dsn string) (uint, bool, error) {
	m, err := open(dsn)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}
