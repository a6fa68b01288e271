package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/domain/item"
	"github.com/atproject/projectone/internal/app/storage"
	"github.com/atproject/projectone/internal/app/storage/storagetest"
	"github.com/atproject/projectone/internal/config"
	"github.com/atproject/projectone/internal/platform/database"
	"github.com/atproject/projectone/internal/platform/migrations"
)

func openStore(t *testing.T, cfg config.DatabaseConfig) storage.Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Apply(ctx, cfg, db))
	return New(db)
}

func TestSQLiteFileStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		dsn := "file:" + filepath.Join(t.TempDir(), "store.db")
		return openStore(t, config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	})
}

func TestSQLiteMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openStore(t, config.DatabaseConfig{Driver: "sqlite"})
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	cfg := config.DatabaseConfig{Driver: "postgres", DSN: dsn}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s := openStore(t, cfg)
		truncate(t, s.(*Store))
		return s
	})
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set; skipping mysql integration test")
	}
	cfg := config.DatabaseConfig{Driver: "mysql", DSN: dsn}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s := openStore(t, cfg)
		truncate(t, s.(*Store))
		return s
	})
}

func truncate(t *testing.T, s *Store) {
	t.Helper()
	s.DB().MustExec(`DELETE FROM items`)
	s.DB().MustExec(`DELETE FROM accounts`)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetAccountNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, owner, metadata, created_at, updated_at FROM accounts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "metadata", "created_at", "updated_at"}))

	_, err := s.GetAccount(context.Background(), "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateItemMapsDriverErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"postgres unique", &pq.Error{Code: "23505"}, storage.ErrConflict},
		{"postgres foreign key", &pq.Error{Code: "23503"}, storage.ErrNotFound},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, storage.ErrConflict},
		{"mysql foreign key", &mysql.MySQLError{Number: 1452}, storage.ErrNotFound},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: items.account_id, items.name (2067)"), storage.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectExec(`INSERT INTO items`).WillReturnError(tc.err)

			_, err := s.CreateItem(context.Background(), item.Item{AccountID: "acct", Name: "widget"})
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestCreateAccountPropagatesUnknownErrors(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(`INSERT INTO accounts`).WillReturnError(boom)

	_, err := s.CreateAccount(context.Background(), account.Account{Owner: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, storage.ErrConflict))
}

func TestUpdateItemStaleVersion(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE items`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM items WHERE id = \$1`).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(3)))

	_, err := s.UpdateItem(context.Background(), item.Item{ID: "item-1", Name: "widget", Version: 2})
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListItemsBuildsFilteredQuery(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM items WHERE account_id = \$1 AND substr\(name, 1, \$2\) = \$3 AND tags LIKE \$4 ESCAPE '!' ORDER BY created_at, id LIMIT \$5 OFFSET \$6`).
		WithArgs("acct", 4, "Né50%", "%,red,%", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	items, err := s.ListItems(context.Background(), storage.ItemQuery{
		AccountID:  "acct",
		NamePrefix: "Né50%",
		Tag:        "red",
		Limit:      10,
		Offset:     20,
	})
	require.NoError(t, err)
	assert.Empty(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTagEncoding(t *testing.T) {
	assert.Equal(t, "", encodeTags(nil))
	assert.Equal(t, ",a,b,", encodeTags([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, decodeTags(",a,b,"))
	assert.Nil(t, decodeTags(""))
}
