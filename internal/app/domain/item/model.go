package item

import (
	"encoding/json"
	"time"
)

// Item is a named record owned by an account. Version starts at 1 and is
// bumped by every successful update.
type Item struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id" validate:"required"`
	Name        string          `json:"name" validate:"required,max=128"`
	Description string          `json:"description,omitempty" validate:"max=1024"`
	Attributes  json.RawMessage `json:"attributes,omitempty" validate:"omitempty,json_object"`
	Tags        []string        `json:"tags,omitempty" validate:"max=32,dive,min=1,max=64,item_tag"`
	Version     int64           `json:"version"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Expired reports whether the item has an expiry at or before now.
func (i Item) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// Clone returns a deep copy.
func (i Item) Clone() Item {
	if i.Attributes != nil {
		i.Attributes = append(json.RawMessage(nil), i.Attributes...)
	}
	if i.Tags != nil {
		i.Tags = append([]string(nil), i.Tags...)
	}
	if i.ExpiresAt != nil {
		t := *i.ExpiresAt
		i.ExpiresAt = &t
	}
	return i
}
