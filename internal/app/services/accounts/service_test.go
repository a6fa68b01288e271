package accounts

import (
	"context"
	"strings"
	"testing"

	"github.com/atproject/projectone/internal/app/events"
	"github.com/atproject/projectone/internal/app/storage/memory"
	apperrors "github.com/atproject/projectone/internal/errors"
)

type recorder struct{ events []events.ChangeEvent }

func (r *recorder) Publish(ev events.ChangeEvent) { r.events = append(r.events, ev) }

func TestService(t *testing.T) {
	store := memory.New()
	pub := &recorder{}
	svc := New(store, pub, nil)

	acct, err := svc.Create(context.Background(), "  alice ", map[string]string{" tier ": "pro"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acct.ID == "" {
		t.Fatalf("expected id to be generated")
	}
	if acct.Owner != "alice" || acct.Metadata["tier"] != "pro" {
		t.Fatalf("expected trimmed owner and metadata keys, got %+v", acct)
	}

	updated, err := svc.UpdateMetadata(context.Background(), acct.ID, map[string]string{"tier": "enterprise"})
	if err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	if updated.Metadata["tier"] != "enterprise" {
		t.Fatalf("metadata not updated")
	}

	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 account, got %d", len(list))
	}

	if err := svc.Delete(context.Background(), acct.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []events.Type{events.AccountCreated, events.AccountUpdated, events.AccountDeleted}
	if len(pub.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(pub.events))
	}
	for i, typ := range want {
		if pub.events[i].Type != typ || pub.events[i].AccountID != acct.ID {
			t.Fatalf("event %d = %+v, want %s", i, pub.events[i], typ)
		}
	}
}

func TestCreateRejectsBlankOwner(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	_, err := svc.Create(context.Background(), "   ", nil)
	se := apperrors.GetServiceError(err)
	if se == nil || se.Code != apperrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := se.Details["owner"]; !ok {
		t.Fatalf("expected owner detail, got %v", se.Details)
	}

	_, err = svc.Create(context.Background(), strings.Repeat("x", 129), nil)
	if se := apperrors.GetServiceError(err); se == nil || se.Code != apperrors.CodeValidation {
		t.Fatalf("expected validation error for long owner, got %v", err)
	}
}

func TestMissingAccountIsNotFound(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	for name, err := range map[string]error{
		"get":    func() error { _, err := svc.Get(ctx, "nope"); return err }(),
		"update": func() error { _, err := svc.UpdateMetadata(ctx, "nope", nil); return err }(),
		"delete": svc.Delete(ctx, "nope"),
	} {
		se := apperrors.GetServiceError(err)
		if se == nil || se.Code != apperrors.CodeNotFound {
			t.Fatalf("%s: expected not found, got %v", name, err)
		}
	}
}
