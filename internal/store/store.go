package store

import (
	"context"
	"errors"
	"time"
)

// Durable client-side keys. Both must survive a full restart of the client.
const (
	KeyToken     = "session.token"
	KeyLastOrder = "checkout.last_order_id"
)

var ErrNotFound = errors.New("slot not found")

// Slot is one durable value. A zero ExpiresAt never expires.
type Slot struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (s Slot) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Slots defines the durable storage contract shared by the session store and
// the checkout machine. Expired slots read as ErrNotFound.
type Slots interface {
	Get(ctx context.Context, key string) (Slot, error)
	Set(ctx context.Context, slot Slot) error
	Delete(ctx context.Context, key string) error
}
