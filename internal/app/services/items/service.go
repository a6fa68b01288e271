package items

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/atproject/projectone/internal/app/domain/item"
	"github.com/atproject/projectone/internal/app/events"
	"github.com/atproject/projectone/internal/app/metrics"
	"github.com/atproject/projectone/internal/app/storage"
	"github.com/atproject/projectone/internal/app/validation"
	apperrors "github.com/atproject/projectone/internal/errors"
	"github.com/atproject/projectone/pkg/logger"
)

const resource = "item"

// Service manages items and enforces account ownership.
type Service struct {
	accounts storage.AccountStore
	store    storage.ItemStore
	events   events.Publisher
	log      *logger.Logger
	now      func() time.Time
}

// New constructs an item service. A nil publisher discards events.
func New(accounts storage.AccountStore, store storage.ItemStore, pub events.Publisher, log *logger.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	if log == nil {
		log = logger.NewDefault("items")
	}
	return &Service{
		accounts: accounts,
		store:    store,
		events:   pub,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates it and stores it under its account.
func (s *Service) Create(ctx context.Context, it item.Item) (item.Item, error) {
	it.ID = ""
	normalize(&it)
	if err := s.validate(it); err != nil {
		return item.Item{}, err
	}
	if _, err := s.accounts.GetAccount(ctx, it.AccountID); err != nil {
		return item.Item{}, apperrors.FromStorage("account", it.AccountID, err)
	}

	created, err := s.store.CreateItem(ctx, it)
	metrics.RecordOperation(resource, "create", err)
	if err != nil {
		return item.Item{}, storeError(it.Name, err)
	}

	s.log.WithField("item_id", created.ID).
		WithField("account_id", created.AccountID).
		WithField("name", created.Name).
		Info("item created")
	s.publish(events.ItemCreated, created)
	return created, nil
}

// Get returns the item when it belongs to accountID.
func (s *Service) Get(ctx context.Context, accountID, id string) (item.Item, error) {
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return item.Item{}, storeError(id, err)
	}
	if it.AccountID != accountID {
		return item.Item{}, apperrors.NotFound(resource, id)
	}
	return it, nil
}

// List pages through items matching q and every attribute filter.
func (s *Service) List(ctx context.Context, q storage.ItemQuery, filters []AttributeFilter) ([]item.Item, error) {
	q = q.Normalize()
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	if q.Tag != "" {
		if err := validation.Var("tag", q.Tag, "max=64,item_tag"); err != nil {
			return nil, err
		}
	}
	if q.AccountID != "" {
		if _, err := s.accounts.GetAccount(ctx, q.AccountID); err != nil {
			return nil, apperrors.FromStorage("account", q.AccountID, err)
		}
	}

	if len(filters) == 0 {
		result, err := s.store.ListItems(ctx, q)
		if err != nil {
			return nil, storeError("", err)
		}
		return result, nil
	}

	// attribute filters apply after storage paging, so scan and page here
	skip := q.Offset
	result := make([]item.Item, 0, q.Limit)
	scan := q
	scan.Limit = storage.MaxListLimit
	scan.Offset = 0
	for {
		page, err := s.store.ListItems(ctx, scan)
		if err != nil {
			return nil, storeError("", err)
		}
		for _, it := range page {
			if !matchAll(filters, it.Attributes) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			result = append(result, it)
			if len(result) == q.Limit {
				return result, nil
			}
		}
		if len(page) < scan.Limit {
			return result, nil
		}
		scan.Offset += len(page)
	}
}

// Update replaces the mutable fields of an item. it.Version must equal the
// stored version.
func (s *Service) Update(ctx context.Context, it item.Item) (item.Item, error) {
	if it.Version <= 0 {
		return item.Item{}, apperrors.InvalidFormat("version", "is required")
	}
	// ownership only; the store compares versions atomically, and a cached
	// read may lag behind it
	if _, err := s.Get(ctx, it.AccountID, it.ID); err != nil {
		return item.Item{}, err
	}

	normalize(&it)
	if err := s.validate(it); err != nil {
		return item.Item{}, err
	}

	updated, err := s.store.UpdateItem(ctx, it)
	metrics.RecordOperation(resource, "update", err)
	if err != nil {
		return item.Item{}, storeError(it.ID, err)
	}

	s.log.WithField("item_id", updated.ID).
		WithField("account_id", updated.AccountID).
		WithField("version", updated.Version).
		Info("item updated")
	s.publish(events.ItemUpdated, updated)
	return updated, nil
}

// Delete removes an item that belongs to accountID.
func (s *Service) Delete(ctx context.Context, accountID, id string) error {
	existing, err := s.Get(ctx, accountID, id)
	if err != nil {
		return err
	}
	err = s.store.DeleteItem(ctx, id)
	metrics.RecordOperation(resource, "delete", err)
	if err != nil {
		return storeError(id, err)
	}

	s.log.WithField("item_id", id).
		WithField("account_id", accountID).
		Info("item deleted")
	s.publish(events.ItemDeleted, existing)
	return nil
}

// SweepExpired deletes items whose expiry has passed and reports how many
// were removed.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	removed, err := s.store.DeleteExpiredItems(ctx, now)
	metrics.RecordOperation(resource, "sweep", err)
	if err != nil {
		return 0, storeError("", err)
	}
	for _, it := range removed {
		s.publish(events.ItemExpired, it)
	}
	metrics.RecordExpired(len(removed))
	if len(removed) > 0 {
		s.log.WithField("removed", len(removed)).Info("expired items swept")
	}
	return len(removed), nil
}

// Count returns the number of items in an account, or in total for an
// empty accountID.
func (s *Service) Count(ctx context.Context, accountID string) (int, error) {
	n, err := s.store.CountItems(ctx, accountID)
	if err != nil {
		return 0, storeError("", err)
	}
	return n, nil
}

func (s *Service) validate(it item.Item) error {
	if err := validation.Struct(it); err != nil {
		return err
	}
	if it.ExpiresAt != nil && !it.ExpiresAt.After(s.now()) {
		return apperrors.InvalidFormat("expires_at", "must be in the future")
	}
	return nil
}

func (s *Service) publish(typ events.Type, it item.Item) {
	s.events.Publish(events.ChangeEvent{
		Type:      typ,
		AccountID: it.AccountID,
		ID:        it.ID,
		Version:   it.Version,
		At:        s.now(),
	})
}

// normalize trims text fields, canonicalises tags and drops a JSON null
// attribute document.
func normalize(it *item.Item) {
	it.Name = strings.TrimSpace(it.Name)
	it.Description = strings.TrimSpace(it.Description)
	if trimmed := bytes.TrimSpace(it.Attributes); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		it.Attributes = nil
	} else {
		it.Attributes = trimmed
	}
	if it.ExpiresAt != nil {
		t := it.ExpiresAt.UTC()
		it.ExpiresAt = &t
	}
	it.Tags = NormalizeTags(it.Tags)
}

// NormalizeTags lower-cases, trims, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func storeError(id string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.FromStorage(resource, id, err)
}
