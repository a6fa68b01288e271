package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/domain/item"
)

type accountRow struct {
	ID        string         `db:"id"`
	Owner     string         `db:"owner"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func newAccountRow(acct account.Account) (accountRow, error) {
	row := accountRow{
		ID:        acct.ID,
		Owner:     acct.Owner,
		CreatedAt: acct.CreatedAt,
		UpdatedAt: acct.UpdatedAt,
	}
	if len(acct.Metadata) > 0 {
		raw, err := json.Marshal(acct.Metadata)
		if err != nil {
			return accountRow{}, fmt.Errorf("encode metadata: %w", err)
		}
		row.Metadata = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

func (r accountRow) toDomain() (account.Account, error) {
	acct := account.Account{
		ID:        r.ID,
		Owner:     r.Owner,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.Metadata.Valid && r.Metadata.String != "" && r.Metadata.String != "null" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &acct.Metadata); err != nil {
			return account.Account{}, fmt.Errorf("decode metadata for account %s: %w", r.ID, err)
		}
	}
	return acct, nil
}

type itemRow struct {
	ID          string         `db:"id"`
	AccountID   string         `db:"account_id"`
	Name        string         `db:"name"`
	Description string         `db:"description"`
	Attributes  sql.NullString `db:"attributes"`
	Tags        string         `db:"tags"`
	Version     int64          `db:"version"`
	ExpiresAt   sql.NullTime   `db:"expires_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func newItemRow(it item.Item) itemRow {
	row := itemRow{
		ID:          it.ID,
		AccountID:   it.AccountID,
		Name:        it.Name,
		Description: it.Description,
		Tags:        encodeTags(it.Tags),
		Version:     it.Version,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
	if len(it.Attributes) > 0 && string(it.Attributes) != "null" {
		row.Attributes = sql.NullString{String: string(it.Attributes), Valid: true}
	}
	if it.ExpiresAt != nil {
		row.ExpiresAt = sql.NullTime{Time: it.ExpiresAt.UTC().Truncate(time.Microsecond), Valid: true}
	}
	return row
}

func (r itemRow) toDomain() item.Item {
	it := item.Item{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Name:        r.Name,
		Description: r.Description,
		Tags:        decodeTags(r.Tags),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.Attributes.Valid && r.Attributes.String != "" {
		it.Attributes = json.RawMessage(r.Attributes.String)
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time.UTC()
		it.ExpiresAt = &t
	}
	return it
}

// Tags are stored as ",a,b," so a single LIKE finds one tag.
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "," + strings.Join(tags, ",") + ","
}

func decodeTags(raw string) []string {
	raw = strings.Trim(raw, ",")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
