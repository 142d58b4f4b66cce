package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"storefront/internal/store"
)

const defaultTable = "client_slots"

type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

func NewStore(databaseURL, table string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if table == "" {
		table = defaultTable
	}
	s := &Store{db: db, table: pq.QuoteIdentifier(table), now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`create table if not exists %s (
			key text primary key,
			value text not null,
			expires_at timestamptz,
			updated_at timestamptz not null default now()
		)`, s.table))
	if err != nil {
		return fmt.Errorf("create slots table: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Slot, error) {
	var (
		slot      = store.Slot{Key: key}
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select value, expires_at from %s where key = $1`, s.table),
		key,
	).Scan(&slot.Value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Slot{}, store.ErrNotFound
	}
	if err != nil {
		return store.Slot{}, fmt.Errorf("select slot: %w", err)
	}
	if expiresAt.Valid {
		slot.ExpiresAt = expiresAt.Time.UTC()
	}
	if slot.Expired(s.now()) {
		return store.Slot{}, store.ErrNotFound
	}
	return slot, nil
}

func (s *Store) Set(ctx context.Context, slot store.Slot) error {
	var expiresAt sql.NullTime
	if !slot.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: slot.ExpiresAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`insert into %s(key, value, expires_at, updated_at) values ($1, $2, $3, now())
		 on conflict (key) do update
		 set value = excluded.value,
		     expires_at = excluded.expires_at,
		     updated_at = excluded.updated_at`, s.table),
		slot.Key, slot.Value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert slot: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where key = $1`, s.table), key); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Slots = (*Store)(nil)
