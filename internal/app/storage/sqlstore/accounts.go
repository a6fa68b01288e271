package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/storage"
)

const accountColumns = `id, owner, metadata, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := s.now()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	row, err := newAccountRow(acct)
	if err != nil {
		return account.Account{}, err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO accounts (id, owner, metadata, created_at, updated_at)
		VALUES (:id, :owner, :metadata, :created_at, :updated_at)
	`, row)
	if err != nil {
		if classify(err) == uniqueViolation {
			return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrConflict)
		}
		return account.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return row.toDomain()
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.UpdatedAt = s.now()
	row, err := newAccountRow(acct)
	if err != nil {
		return account.Account{}, err
	}

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE accounts
		SET owner = :owner, metadata = :metadata, updated_at = :updated_at
		WHERE id = :id
	`, row)
	if err != nil {
		return account.Account{}, fmt.Errorf("update account: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}
	return s.GetAccount(ctx, acct.ID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	var row accountRow
	query := s.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return account.Account{}, notFound("account", id, err)
	}
	return row.toDomain()
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	result := make([]account.Account, 0, len(rows))
	for _, row := range rows {
		acct, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		// items go first so the delete also works where cascades are off
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM items WHERE account_id = ?`), id); err != nil {
			return fmt.Errorf("delete items of account %s: %w", id, err)
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM accounts WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete account %s: %w", id, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
		return nil
	})
}
