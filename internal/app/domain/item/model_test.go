package item

import (
	"encoding/json"
	"testing"
	"time"
)

func TestExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	if (Item{}).Expired(now) {
		t.Fatalf("item without expiry must not be expired")
	}
	if !(Item{ExpiresAt: &past}).Expired(now) {
		t.Fatalf("expected past expiry to be expired")
	}
	if !(Item{ExpiresAt: &now}).Expired(now) {
		t.Fatalf("expected expiry equal to now to be expired")
	}
	if (Item{ExpiresAt: &future}).Expired(now) {
		t.Fatalf("future expiry must not be expired")
	}
}

func TestCloneIsDeep(t *testing.T) {
	exp := time.Now().UTC()
	orig := Item{Attributes: json.RawMessage(`{"a":1}`), Tags: []string{"x"}, ExpiresAt: &exp}
	cp := orig.Clone()

	cp.Attributes[2] = 'b'
	cp.Tags[0] = "y"
	*cp.ExpiresAt = exp.Add(time.Hour)

	if string(orig.Attributes) != `{"a":1}` || orig.Tags[0] != "x" || !orig.ExpiresAt.Equal(exp) {
		t.Fatalf("clone shares memory with original: %+v", orig)
	}
}
