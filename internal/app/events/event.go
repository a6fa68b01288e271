// Package events fans record changes out to live subscribers.
package events

import "time"

// Type names a change.
type Type string

const (
	AccountCreated Type = "account.created"
	AccountUpdated Type = "account.updated"
	AccountDeleted Type = "account.deleted"
	ItemCreated    Type = "item.created"
	ItemUpdated    Type = "item.updated"
	ItemDeleted    Type = "item.deleted"
	ItemExpired    Type = "item.expired"
)

// ChangeEvent describes one committed write.
type ChangeEvent struct {
	Type      Type      `json:"type"`
	AccountID string    `json:"account_id"`
	ID        string    `json:"id"`
	Version   int64     `json:"version,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher accepts change events. Implementations must not block.
type Publisher interface {
	Publish(ev ChangeEvent)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(ChangeEvent) {}
