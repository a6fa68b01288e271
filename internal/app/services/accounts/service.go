package accounts

import (
	"context"
	"strings"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/events"
	"github.com/atproject/projectone/internal/app/metrics"
	"github.com/atproject/projectone/internal/app/storage"
	"github.com/atproject/projectone/internal/app/validation"
	apperrors "github.com/atproject/projectone/internal/errors"
	"github.com/atproject/projectone/pkg/logger"
)

const resource = "account"

// Service manages accounts.
type Service struct {
	store  storage.AccountStore
	events events.Publisher
	log    *logger.Logger
}

// New constructs an account service. A nil publisher discards events.
func New(store storage.AccountStore, pub events.Publisher, log *logger.Logger) *Service {
	if pub == nil {
		pub = events.Discard
	}
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, events: pub, log: log}
}

// Create validates and stores a new account.
func (s *Service) Create(ctx context.Context, owner string, metadata map[string]string) (account.Account, error) {
	acct := account.Account{
		Owner:    strings.TrimSpace(owner),
		Metadata: normalizeMetadata(metadata),
	}
	if err := validation.Struct(acct); err != nil {
		return account.Account{}, err
	}

	created, err := s.store.CreateAccount(ctx, acct)
	metrics.RecordOperation(resource, "create", err)
	if err != nil {
		return account.Account{}, storeError(acct.ID, err)
	}

	s.log.WithField("account_id", created.ID).
		WithField("owner", created.Owner).
		Info("account created")
	s.events.Publish(events.ChangeEvent{Type: events.AccountCreated, AccountID: created.ID, ID: created.ID, At: created.CreatedAt})
	return created, nil
}

// Get fetches an account.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, storeError(id, err)
	}
	return acct, nil
}

// List returns every account ordered by creation time.
func (s *Service) List(ctx context.Context) ([]account.Account, error) {
	accts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, storeError("", err)
	}
	return accts, nil
}

// UpdateMetadata replaces an account's metadata.
func (s *Service) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, storeError(id, err)
	}
	acct.Metadata = normalizeMetadata(metadata)
	if err := validation.Struct(acct); err != nil {
		return account.Account{}, err
	}

	updated, err := s.store.UpdateAccount(ctx, acct)
	metrics.RecordOperation(resource, "update", err)
	if err != nil {
		return account.Account{}, storeError(id, err)
	}

	s.log.WithField("account_id", id).
		WithField("metadata_keys", len(updated.Metadata)).
		Info("account metadata updated")
	s.events.Publish(events.ChangeEvent{Type: events.AccountUpdated, AccountID: id, ID: id, At: updated.UpdatedAt})
	return updated, nil
}

// Delete removes an account together with its items.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteAccount(ctx, id)
	metrics.RecordOperation(resource, "delete", err)
	if err != nil {
		return storeError(id, err)
	}

	s.log.WithField("account_id", id).Info("account deleted")
	s.events.Publish(events.ChangeEvent{Type: events.AccountDeleted, AccountID: id, ID: id})
	return nil
}

func normalizeMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.TrimSpace(k)] = v
	}
	return out
}

func storeError(id string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.FromStorage(resource, id, err)
}
