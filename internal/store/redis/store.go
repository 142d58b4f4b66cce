package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"storefront/internal/store"
)

// Store keeps slots in redis so several client processes (kiosk terminals
// behind one profile) see the same session and pending order.
type Store struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

func NewStore(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "storefront"
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) Get(ctx context.Context, key string) (store.Slot, error) {
	data, err := s.client.Get(ctx, s.slotKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.Slot{}, store.ErrNotFound
	}
	if err != nil {
		return store.Slot{}, fmt.Errorf("redis get failed: %w", err)
	}
	var slot store.Slot
	if err := json.Unmarshal(data, &slot); err != nil {
		return store.Slot{}, fmt.Errorf("unmarshal slot failed: %w", err)
	}
	if slot.Expired(s.now()) {
		return store.Slot{}, store.ErrNotFound
	}
	return slot, nil
}

func (s *Store) Set(ctx context.Context, slot store.Slot) error {
	var ttl time.Duration
	if !slot.ExpiresAt.IsZero() {
		ttl = slot.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Delete(ctx, slot.Key)
		}
	}
	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("marshal slot failed: %w", err)
	}
	if err := s.client.Set(ctx, s.slotKey(slot.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.slotKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (s *Store) slotKey(key string) string {
	return fmt.Sprintf("%s:slot:%s", s.prefix, key)
}

var _ store.Slots = (*Store)(nil)
