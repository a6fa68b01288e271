package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/domain/item"
	"github.com/atproject/projectone/internal/app/metrics"
	"github.com/atproject/projectone/internal/app/storage"
	"github.com/atproject/projectone/pkg/logger"
)

// Store caches single-record reads of the wrapped store and invalidates them
// on every write. Cache failures are logged and never fail the call.
//
// A write replaces the key with a tombstone for tombstoneTTL instead of
// deleting it, and reads only fill absent keys. A read that fetched the old
// record before the write committed therefore cannot put it back.
type Store struct {
	storage.Store
	cache        Cache
	ttl          time.Duration
	tombstoneTTL time.Duration
	log          *logger.Logger
}

// DefaultTombstoneTTL bounds how long a read racing a write may take and
// still be kept out of the cache.
const DefaultTombstoneTTL = 30 * time.Second

var tombstone = []byte("\x00tombstone")

var _ storage.Store = (*Store)(nil)

// New wraps next with c. A non-positive ttl defaults to five minutes.
func New(next storage.Store, c Cache, ttl time.Duration, log *logger.Logger) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = logger.NewDefault("cache")
	}
	return &Store{Store: next, cache: c, ttl: ttl, tombstoneTTL: DefaultTombstoneTTL, log: log}
}

const (
	accountResource = "account"
	itemResource    = "item"
)

func accountKey(id string) string { return accountResource + ":" + id }
func itemKey(id string) string    { return itemResource + ":" + id }

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	var acct account.Account
	if s.load(ctx, accountResource, accountKey(id), &acct) {
		return acct, nil
	}
	acct, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	s.save(ctx, accountKey(id), acct)
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	updated, err := s.Store.UpdateAccount(ctx, acct)
	s.invalidate(ctx, accountKey(acct.ID))
	if err != nil {
		return account.Account{}, err
	}
	return updated, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	keys := []string{accountKey(id)}
	for offset := 0; ; offset += storage.MaxListLimit {
		page, err := s.Store.ListItems(ctx, storage.ItemQuery{AccountID: id, Limit: storage.MaxListLimit, Offset: offset})
		if err != nil {
			s.log.WithError(err).WithField("account_id", id).Warn("list items for cache eviction failed")
			break
		}
		for _, it := range page {
			keys = append(keys, itemKey(it.ID))
		}
		if len(page) < storage.MaxListLimit {
			break
		}
	}

	err := s.Store.DeleteAccount(ctx, id)
	s.invalidate(ctx, keys...)
	return err
}

func (s *Store) GetItem(ctx context.Context, id string) (item.Item, error) {
	var it item.Item
	if s.load(ctx, itemResource, itemKey(id), &it) {
		return it, nil
	}
	it, err := s.Store.GetItem(ctx, id)
	if err != nil {
		return item.Item{}, err
	}
	s.save(ctx, itemKey(id), it)
	return it, nil
}

func (s *Store) UpdateItem(ctx context.Context, it item.Item) (item.Item, error) {
	updated, err := s.Store.UpdateItem(ctx, it)
	s.invalidate(ctx, itemKey(it.ID))
	if err != nil {
		return item.Item{}, err
	}
	return updated, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	err := s.Store.DeleteItem(ctx, id)
	s.invalidate(ctx, itemKey(id))
	return err
}

func (s *Store) DeleteExpiredItems(ctx context.Context, now time.Time) ([]item.Item, error) {
	removed, err := s.Store.DeleteExpiredItems(ctx, now)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(removed))
	for _, it := range removed {
		keys = append(keys, itemKey(it.ID))
	}
	s.invalidate(ctx, keys...)
	return removed, nil
}

func (s *Store) load(ctx context.Context, resource, key string, dst interface{}) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache read failed")
		return false
	}
	if ok && bytes.Equal(raw, tombstone) {
		ok = false
	}
	metrics.RecordCacheLookup(resource, ok)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache entry undecodable")
		s.evict(ctx, key)
		return false
	}
	return true
}

func (s *Store) save(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if _, err := s.cache.SetNX(ctx, key, raw, s.ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

// invalidate overwrites keys with a tombstone. A key that cannot be
// tombstoned is deleted instead.
func (s *Store) invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.cache.Set(ctx, key, tombstone, s.tombstoneTTL); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("cache tombstone failed")
			s.evict(ctx, key)
		}
	}
}

func (s *Store) evict(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.WithError(err).WithField("keys", len(keys)).Warn("cache eviction failed")
	}
}
