// Package migrations applies the embedded schema for each supported dialect.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/atproject/projectone/internal/config"
	"github.com/atproject/projectone/internal/platform/database"
)

//go:embed sql
var files embed.FS

// Migrator runs the embedded migrations of one dialect against a database.
type Migrator struct {
	m      *migrate.Migrate
	src    source.Driver
	driver string
}

// New prepares a migrator for db. For postgres and mysql the migrator owns db
// and closes it on Close; sqlite handles are left open.
func New(db *sql.DB, driver string) (*Migrator, error) {
	driver = config.NormalizeDriver(driver)

	src, err := iofs.New(files, "sql/"+driver)
	if err != nil {
		return nil, fmt.Errorf("load %s migrations: %w", driver, err)
	}

	var target migratedb.Driver
	switch driver {
	case database.DriverSQLite:
		target, err = sqlite.WithInstance(db, &sqlite.Config{})
	case database.DriverPostgres:
		target, err = postgres.WithInstance(db, &postgres.Config{})
	case database.DriverMySQL:
		target, err = mysql.WithInstance(db, &mysql.Config{})
	default:
		err = fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("prepare %s migrations: %w", driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return &Migrator{m: m, src: src, driver: driver}, nil
}

// Open returns a migrator for cfg. SQLite migrates through the shared handle
// so an in-memory database sees the schema; server databases get a dedicated
// connection that Close releases.
func Open(ctx context.Context, cfg config.DatabaseConfig, shared *sqlx.DB) (*Migrator, error) {
	driver := config.NormalizeDriver(cfg.Driver)
	if driver == database.DriverSQLite {
		if shared == nil {
			return nil, errors.New("sqlite migrations need an open database")
		}
		return New(shared.DB, driver)
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m, err := New(db.DB, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Apply brings the schema up to date.
func Apply(ctx context.Context, cfg config.DatabaseConfig, shared *sqlx.DB) error {
	m, err := Open(ctx, cfg, shared)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back steps migrations, or all of them when steps <= 0.
func (m *Migrator) Down(steps int) error {
	var err error
	if steps > 0 {
		err = m.m.Steps(-steps)
	} else {
		err = m.m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version reports the applied version. ok is false on an empty database.
func (m *Migrator) Version() (version uint, dirty bool, ok bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("migration version: %w", err)
	}
	return version, dirty, true, nil
}

// Close releases the migration source and, for server databases, the
// dedicated connection.
func (m *Migrator) Close() error {
	if m.driver == database.DriverSQLite {
		return m.src.Close()
	}
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
