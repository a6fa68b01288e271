// Package storagetest holds behaviour tests shared by every storage
// implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/domain/item"
	"github.com/atproject/projectone/internal/app/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Run exercises the AccountStore and ItemStore contracts.
func Run(t *testing.T, newStore Factory) {
	t.Run("AccountLifecycle", func(t *testing.T) { testAccountLifecycle(t, newStore(t)) })
	t.Run("AccountNotFound", func(t *testing.T) { testAccountNotFound(t, newStore(t)) })
	t.Run("ItemLifecycle", func(t *testing.T) { testItemLifecycle(t, newStore(t)) })
	t.Run("ItemUniqueName", func(t *testing.T) { testItemUniqueName(t, newStore(t)) })
	t.Run("ItemVersionConflict", func(t *testing.T) { testItemVersionConflict(t, newStore(t)) })
	t.Run("ItemRequiresAccount", func(t *testing.T) { testItemRequiresAccount(t, newStore(t)) })
	t.Run("ListFiltersAndPaging", func(t *testing.T) { testListFiltersAndPaging(t, newStore(t)) })
	t.Run("MaxTagPayload", func(t *testing.T) { testMaxTagPayload(t, newStore(t)) })
	t.Run("DeleteAccountCascades", func(t *testing.T) { testDeleteAccountCascades(t, newStore(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, newStore(t)) })
}

func mustAccount(t *testing.T, s storage.Store, owner string) account.Account {
	t.Helper()
	acct, err := s.CreateAccount(context.Background(), account.Account{Owner: owner, Metadata: map[string]string{"tier": "free"}})
	require.NoError(t, err)
	return acct
}

func mustItem(t *testing.T, s storage.Store, accountID, name string, tags ...string) item.Item {
	t.Helper()
	it, err := s.CreateItem(context.Background(), item.Item{
		AccountID:  accountID,
		Name:       name,
		Attributes: json.RawMessage(`{"color":"red"}`),
		Tags:       tags,
	})
	require.NoError(t, err)
	// keep creation times strictly ordered for stores with coarse clocks
	time.Sleep(2 * time.Millisecond)
	return it
}

func testAccountLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	acct := mustAccount(t, s, "alice")
	require.NotEmpty(t, acct.ID)
	assert.False(t, acct.CreatedAt.IsZero())

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "free", got.Metadata["tier"])

	got.Metadata = map[string]string{"tier": "pro"}
	updated, err := s.UpdateAccount(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "pro", updated.Metadata["tier"])
	assert.True(t, updated.CreatedAt.Equal(acct.CreatedAt), "created_at must not change")

	mustAccount(t, s, "bob")
	list, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, acct.ID, list[0].ID)
}

func testAccountNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetAccount(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "get: %v", err)

	_, err = s.UpdateAccount(ctx, account.Account{ID: "missing", Owner: "x"})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "update: %v", err)

	err = s.DeleteAccount(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "delete: %v", err)
}

func testItemLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	acct := mustAccount(t, s, "alice")
	it := mustItem(t, s, acct.ID, "widget", "a", "b")
	assert.Equal(t, int64(1), it.Version)

	got, err := s.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "widget", got.Name)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
	assert.JSONEq(t, `{"color":"red"}`, string(got.Attributes))

	got.Description = "updated"
	updated, err := s.UpdateItem(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, acct.ID, updated.AccountID)

	reread, err := s.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", reread.Description)
	assert.Equal(t, int64(2), reread.Version)

	require.NoError(t, s.DeleteItem(ctx, it.ID))
	_, err = s.GetItem(ctx, it.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteItem(ctx, it.ID), storage.ErrNotFound))
}

func testItemUniqueName(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "alice")
	b := mustAccount(t, s, "bob")
	mustItem(t, s, a.ID, "widget")

	_, err := s.CreateItem(ctx, item.Item{AccountID: a.ID, Name: "widget"})
	assert.True(t, errors.Is(err, storage.ErrConflict), "duplicate in same account: %v", err)

	_, err = s.CreateItem(ctx, item.Item{AccountID: b.ID, Name: "widget"})
	assert.NoError(t, err, "same name in another account is allowed")

	_, err = s.CreateItem(ctx, item.Item{AccountID: a.ID, Name: "Widget"})
	assert.NoError(t, err, "names differing only in case are distinct")

	other := mustItem(t, s, a.ID, "gadget")
	other.Name = "widget"
	_, err = s.UpdateItem(ctx, other)
	assert.True(t, errors.Is(err, storage.ErrConflict), "rename onto existing name: %v", err)
}

func testItemVersionConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	acct := mustAccount(t, s, "alice")
	it := mustItem(t, s, acct.ID, "widget")

	first := it
	first.Description = "first"
	_, err := s.UpdateItem(ctx, first)
	require.NoError(t, err)

	stale := it
	stale.Description = "stale"
	_, err = s.UpdateItem(ctx, stale)
	assert.True(t, errors.Is(err, storage.ErrConflict), "stale update: %v", err)

	got, err := s.GetItem(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Description)
	assert.Equal(t, int64(2), got.Version)

	_, err = s.UpdateItem(ctx, item.Item{ID: "missing", Version: 1, Name: "x"})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "missing update: %v", err)
}

func testItemRequiresAccount(t *testing.T, s storage.Store) {
	_, err := s.CreateItem(context.Background(), item.Item{AccountID: "missing", Name: "widget"})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func testListFiltersAndPaging(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "alice")
	b := mustAccount(t, s, "bob")
	first := mustItem(t, s, a.ID, "alpha", "red")
	second := mustItem(t, s, a.ID, "alpine", "blue")
	third := mustItem(t, s, a.ID, "beta", "red")
	mustItem(t, s, b.ID, "alpha", "red")

	all, err := s.ListItems(ctx, storage.ItemQuery{AccountID: a.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, ids(all))

	red, err := s.ListItems(ctx, storage.ItemQuery{AccountID: a.ID, Tag: "red"})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, third.ID}, ids(red))

	prefixed, err := s.ListItems(ctx, storage.ItemQuery{AccountID: a.ID, NamePrefix: "alp"})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, ids(prefixed))

	page, err := s.ListItems(ctx, storage.ItemQuery{AccountID: a.ID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids(page))

	beyond, err := s.ListItems(ctx, storage.ItemQuery{AccountID: a.ID, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)

	count, err := s.CountItems(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	total, err := s.CountItems(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	upper := mustItem(t, s, b.ID, "Alpaca")
	mustItem(t, s, b.ID, "al%pha")
	lower, err := s.ListItems(ctx, storage.ItemQuery{AccountID: b.ID, NamePrefix: "alp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names(lower))
	capital, err := s.ListItems(ctx, storage.ItemQuery{AccountID: b.ID, NamePrefix: "Alp"})
	require.NoError(t, err)
	assert.Equal(t, []string{upper.ID}, ids(capital))
	literal, err := s.ListItems(ctx, storage.ItemQuery{AccountID: b.ID, NamePrefix: "al%"})
	require.NoError(t, err)
	assert.Equal(t, []string{"al%pha"}, names(literal))
}

func testMaxTagPayload(t *testing.T, s storage.Store) {
	ctx := context.Background()
	acct := mustAccount(t, s, "alice")
	tags := make([]string, 32)
	for i := range tags {
		tags[i] = fmt.Sprintf("%02d-%s", i, strings.Repeat("t", 61))
	}
	created := mustItem(t, s, acct.ID, "tagged", tags...)

	got, err := s.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, tags, got.Tags)

	found, err := s.ListItems(ctx, storage.ItemQuery{AccountID: acct.ID, Tag: tags[31]})
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, ids(found))
}

func testDeleteAccountCascades(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := mustAccount(t, s, "alice")
	b := mustAccount(t, s, "bob")
	gone := mustItem(t, s, a.ID, "widget")
	kept := mustItem(t, s, b.ID, "widget")

	require.NoError(t, s.DeleteAccount(ctx, a.ID))

	_, err := s.GetItem(ctx, gone.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = s.GetItem(ctx, kept.ID)
	assert.NoError(t, err)
}

func testDeleteExpired(t *testing.T, s storage.Store) {
	ctx := context.Background()
	acct := mustAccount(t, s, "alice")
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired, err := s.CreateItem(ctx, item.Item{AccountID: acct.ID, Name: "old", ExpiresAt: &past})
	require.NoError(t, err)
	_, err = s.CreateItem(ctx, item.Item{AccountID: acct.ID, Name: "fresh", ExpiresAt: &future})
	require.NoError(t, err)
	_, err = s.CreateItem(ctx, item.Item{AccountID: acct.ID, Name: "forever"})
	require.NoError(t, err)

	removed, err := s.DeleteExpiredItems(ctx, now)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, expired.ID, removed[0].ID)

	count, err := s.CountItems(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	again, err := s.DeleteExpiredItems(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func ids(items []item.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func names(items []item.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}
