package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/domain/item"
	"github.com/atproject/projectone/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]account.Account
	items    map[string]item.Item
	now      func() time.Time
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.ItemStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]account.Account),
		items:    make(map[string]item.Item),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrConflict)
	}

	now := s.now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	acct.Metadata = copyMap(acct.Metadata)

	s.accounts[acct.ID] = acct
	return cloneAccount(acct), nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.ID]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}

	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = s.now()
	acct.Metadata = copyMap(acct.Metadata)

	s.accounts[acct.ID] = acct
	return cloneAccount(acct), nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return cloneAccount(acct), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, cloneAccount(acct))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	delete(s.accounts, id)
	for itemID, it := range s.items {
		if it.AccountID == id {
			delete(s.items, itemID)
		}
	}
	return nil
}

// --- ItemStore --------------------------------------------------------------

func (s *Store) CreateItem(_ context.Context, it item.Item) (item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[it.AccountID]; !ok {
		return item.Item{}, fmt.Errorf("account %s: %w", it.AccountID, storage.ErrNotFound)
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	} else if _, exists := s.items[it.ID]; exists {
		return item.Item{}, fmt.Errorf("item %s: %w", it.ID, storage.ErrConflict)
	}
	if s.nameTakenLocked(it.AccountID, it.Name, "") {
		return item.Item{}, fmt.Errorf("item name %q: %w", it.Name, storage.ErrConflict)
	}

	now := s.now()
	it.Version = 1
	it.CreatedAt = now
	it.UpdatedAt = now

	it = it.Clone()
	s.items[it.ID] = it
	return it.Clone(), nil
}

func (s *Store) UpdateItem(_ context.Context, it item.Item) (item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.items[it.ID]
	if !ok {
		return item.Item{}, fmt.Errorf("item %s: %w", it.ID, storage.ErrNotFound)
	}
	if original.Version != it.Version {
		return item.Item{}, fmt.Errorf("item %s version %d, stored %d: %w", it.ID, it.Version, original.Version, storage.ErrConflict)
	}
	if s.nameTakenLocked(original.AccountID, it.Name, it.ID) {
		return item.Item{}, fmt.Errorf("item name %q: %w", it.Name, storage.ErrConflict)
	}

	it.AccountID = original.AccountID
	it.CreatedAt = original.CreatedAt
	it.UpdatedAt = s.now()
	it.Version = original.Version + 1

	it = it.Clone()
	s.items[it.ID] = it
	return it.Clone(), nil
}

func (s *Store) GetItem(_ context.Context, id string) (item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return item.Item{}, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return it.Clone(), nil
}

func (s *Store) ListItems(_ context.Context, q storage.ItemQuery) ([]item.Item, error) {
	q = q.Normalize()

	s.mu.RLock()
	matched := make([]item.Item, 0)
	for _, it := range s.items {
		if q.AccountID != "" && it.AccountID != q.AccountID {
			continue
		}
		if q.NamePrefix != "" && !strings.HasPrefix(it.Name, q.NamePrefix) {
			continue
		}
		if q.Tag != "" && !hasTag(it.Tags, q.Tag) {
			continue
		}
		matched = append(matched, it.Clone())
	}
	s.mu.RUnlock()

	sortItems(matched)

	if q.Offset >= len(matched) {
		return []item.Item{}, nil
	}
	end := q.Offset + q.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[q.Offset:end], nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

func (s *Store) DeleteExpiredItems(_ context.Context, now time.Time) ([]item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]item.Item, 0)
	for id, it := range s.items {
		if it.Expired(now) {
			removed = append(removed, it.Clone())
			delete(s.items, id)
		}
	}
	sortItems(removed)
	return removed, nil
}

func (s *Store) CountItems(_ context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, it := range s.items {
		if accountID == "" || it.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (s *Store) nameTakenLocked(accountID, name, exceptID string) bool {
	for id, it := range s.items {
		if id != exceptID && it.AccountID == accountID && it.Name == name {
			return true
		}
	}
	return false
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func sortItems(items []item.Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func copyMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneAccount(acct account.Account) account.Account {
	acct.Metadata = copyMap(acct.Metadata)
	return acct
}
