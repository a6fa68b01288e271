package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/atproject/projectone/internal/app/domain/item"
	"github.com/atproject/projectone/internal/app/storage"
)

const itemColumns = `id, account_id, name, description, attributes, tags, version, expires_at, created_at, updated_at`

func (s *Store) CreateItem(ctx context.Context, it item.Item) (item.Item, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	now := s.now()
	it.Version = 1
	it.CreatedAt = now
	it.UpdatedAt = now

	row := newItemRow(it)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (:id, :account_id, :name, :description, :attributes, :tags, :version, :expires_at, :created_at, :updated_at)
	`, row)
	switch classify(err) {
	case uniqueViolation:
		return item.Item{}, fmt.Errorf("item name %q: %w", it.Name, storage.ErrConflict)
	case foreignKeyViolation:
		return item.Item{}, fmt.Errorf("account %s: %w", it.AccountID, storage.ErrNotFound)
	}
	if err != nil {
		return item.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateItem(ctx context.Context, it item.Item) (item.Item, error) {
	it.UpdatedAt = s.now()
	row := newItemRow(it)

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE items
		SET name = :name, description = :description, attributes = :attributes, tags = :tags,
		    expires_at = :expires_at, updated_at = :updated_at, version = version + 1
		WHERE id = :id AND version = :version
	`, row)
	if classify(err) == uniqueViolation {
		return item.Item{}, fmt.Errorf("item name %q: %w", it.Name, storage.ErrConflict)
	}
	if err != nil {
		return item.Item{}, fmt.Errorf("update item: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		var stored int64
		err := s.db.GetContext(ctx, &stored, s.db.Rebind(`SELECT version FROM items WHERE id = ?`), it.ID)
		if err != nil {
			return item.Item{}, notFound("item", it.ID, err)
		}
		return item.Item{}, fmt.Errorf("item %s version %d, stored %d: %w", it.ID, it.Version, stored, storage.ErrConflict)
	}
	return s.GetItem(ctx, it.ID)
}

func (s *Store) GetItem(ctx context.Context, id string) (item.Item, error) {
	var row itemRow
	query := s.db.Rebind(`SELECT ` + itemColumns + ` FROM items WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return item.Item{}, notFound("item", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListItems(ctx context.Context, q storage.ItemQuery) ([]item.Item, error) {
	q = q.Normalize()

	var (
		where []string
		args  []interface{}
	)
	if q.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, q.AccountID)
	}
	if q.NamePrefix != "" {
		// LIKE folds case on sqlite and mysql; compare the leading characters
		where = append(where, "substr(name, 1, ?) = ?")
		args = append(args, utf8.RuneCountInString(q.NamePrefix), q.NamePrefix)
	}
	if q.Tag != "" {
		where = append(where, "tags LIKE ? ESCAPE '!'")
		args = append(args, likePattern("%,", q.Tag, ",%"))
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return toItems(rows), nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM items WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteExpiredItems(ctx context.Context, now time.Time) ([]item.Item, error) {
	var removed []item.Item
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []itemRow
		query := tx.Rebind(`SELECT ` + itemColumns + ` FROM items
			WHERE expires_at IS NOT NULL AND expires_at <= ?
			ORDER BY created_at, id`)
		if err := tx.SelectContext(ctx, &rows, query, now.UTC()); err != nil {
			return fmt.Errorf("select expired items: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		del, args, err := sqlx.In(`DELETE FROM items WHERE id IN (?)`, ids)
		if err != nil {
			return fmt.Errorf("build expiry delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(del), args...); err != nil {
			return fmt.Errorf("delete expired items: %w", err)
		}
		removed = toItems(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if removed == nil {
		removed = []item.Item{}
	}
	return removed, nil
}

func (s *Store) CountItems(ctx context.Context, accountID string) (int, error) {
	var (
		count int
		err   error
	)
	if accountID == "" {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM items`)
	} else {
		err = s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM items WHERE account_id = ?`), accountID)
	}
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

func toItems(rows []itemRow) []item.Item {
	result := make([]item.Item, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}
