package storage

import (
	"context"
	"time"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/domain/item"
)

// AccountStore persists account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
	// DeleteAccount removes the account and every item it owns.
	DeleteAccount(ctx context.Context, id string) error
}

// ItemStore persists items.
type ItemStore interface {
	CreateItem(ctx context.Context, it item.Item) (item.Item, error)
	// UpdateItem stores it when it.Version matches the stored version and
	// returns the record with the incremented version. A mismatch yields
	// ErrConflict.
	UpdateItem(ctx context.Context, it item.Item) (item.Item, error)
	GetItem(ctx context.Context, id string) (item.Item, error)
	ListItems(ctx context.Context, q ItemQuery) ([]item.Item, error)
	DeleteItem(ctx context.Context, id string) error
	// DeleteExpiredItems removes items whose expiry is at or before now and
	// returns what was removed.
	DeleteExpiredItems(ctx context.Context, now time.Time) ([]item.Item, error)
	CountItems(ctx context.Context, accountID string) (int, error)
}

// Store combines every persistence interface.
type Store interface {
	AccountStore
	ItemStore
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ItemQuery filters and pages ListItems. Results are ordered by creation
// time, then id.
type ItemQuery struct {
	AccountID  string
	Tag        string
	NamePrefix string
	Limit      int
	Offset     int
}

// Normalize clamps paging values into their allowed ranges.
func (q ItemQuery) Normalize() ItemQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
