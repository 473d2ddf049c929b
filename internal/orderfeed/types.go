package orderfeed

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrViewClosed   = errors.New("view closed")
)

type IdentityKind string

const (
	IdentityUser       IdentityKind = "user"
	IdentityRestaurant IdentityKind = "restaurant"
)

// Identity is the active session principal. Exactly one identity is active at
// a time; it is the sole key for topic derivation and stream lifetime.
type Identity struct {
	Kind           IdentityKind `json:"kind"`
	ID             string       `json:"id"`
	DisplayName    string       `json:"displayName,omitempty"`
	AddressSummary string       `json:"addressSummary,omitempty"`
}

// Present reports whether the identity carries the id its kind requires.
func (id Identity) Present() bool {
	return (id.Kind == IdentityUser || id.Kind == IdentityRestaurant) && id.ID != ""
}

// Key returns a stable string identifying this identity, used to scope stream
// tokens and persisted mirrors.
func (id Identity) Key() string {
	if !id.Present() {
		return ""
	}
	return string(id.Kind) + ":" + id.ID
}

type EventType string

const (
	EventNewOrder     EventType = "new_order"
	EventStatusUpdate EventType = "status_update"
	EventOrderUpdate  EventType = "order_update"
)

// InboundEvent is one decoded stream frame. Events are transient: each is
// converted into at most one view mutation and at most one toast, then
// discarded.
type InboundEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	OrderID      string    `json:"orderId"`
	RestaurantID string    `json:"restaurantId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// LedgerKey is the deduplication key for this event. Events normally carry
// the id of the persistent notification they were generated from; frames
// without one fall back to a composite of the identifying fields so that a
// re-delivered copy still collapses to the same key.
func (e InboundEvent) LedgerKey() string {
	if e.ID != "" {
		return e.ID
	}
	return string(e.Type) + "|" + e.OrderID + "|" + e.Status + "|" + e.CreatedAt.UTC().Format(time.RFC3339Nano)
}

// Order is the slice of order state the engine mirrors for list and detail
// views. Full entity shape (items, pricing breakdown) stays server-side; a
// brand-new order is never synthesized client-side.
type Order struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurantId"`
	UserID       string    `json:"userId"`
	Status       string    `json:"status"`
	Total        float64   `json:"total,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Notification is the client mirror of a server-owned persistent notification.
type Notification struct {
	ID                string    `json:"id"`
	Message           string    `json:"message"`
	DisplayMessage    string    `json:"displayMessage"`
	Type              string    `json:"type"`
	RelatedEntityType string    `json:"relatedEntityType"`
	RelatedEntityID   string    `json:"relatedEntityId"`
	IsRead            bool      `json:"isRead"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Logger matches the subset of *log.Logger the engine needs. A nil Logger is
// silent.
type Logger interface {
	Printf(format string, args ...any)
}
