// Package sqlstore implements the storage interfaces on top of sqlx. The same
// queries run against SQLite, PostgreSQL and MySQL; placeholders are rebound
// for the connected driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/atproject/projectone/internal/app/storage"
)

// Store is a relational storage backend.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle. The schema is
// expected to be migrated already.
func New(db *sqlx.DB) *Store {
	return &Store{
		db: db,
		// server databases keep microseconds; match them so values round-trip
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type violation int

const (
	noViolation violation = iota
	uniqueViolation
	foreignKeyViolation
)

// classify recognises constraint failures from every supported driver.
func classify(err error) violation {
	if err == nil {
		return noViolation
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return uniqueViolation
		case "23503":
			return foreignKeyViolation
		}
		return noViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return uniqueViolation
		case 1452:
			return foreignKeyViolation
		}
		return noViolation
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "PRIMARY KEY constraint failed"):
		return uniqueViolation
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return foreignKeyViolation
	}
	return noViolation
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}

// likePattern escapes value for use in a LIKE ... ESCAPE '!' clause.
func likePattern(prefix, value, suffix string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return prefix + r.Replace(value) + suffix
}
