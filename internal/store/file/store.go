package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"storefront/internal/security/secretbox"
	"storefront/internal/store"
)

// Store persists slots in a single JSON document, the client-side analogue of
// a cookie jar. Writes replace the file atomically.
type Store struct {
	path   string
	box    *secretbox.Box
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

type document struct {
	Slots map[string]store.Slot `json:"slots"`
}

// NewStore opens the jar at path. box may be nil, in which case values are
// written in clear.
func NewStore(path string, box *secretbox.Box, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, box: box, logger: logger.With("component", "slots"), now: time.Now}, nil
}

func (s *Store) Get(_ context.Context, key string) (store.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return store.Slot{}, err
	}
	slot, ok := doc.Slots[key]
	if !ok || slot.Expired(s.now()) {
		return store.Slot{}, store.ErrNotFound
	}
	if s.box != nil {
		plain, err := s.box.Open(key, slot.Value)
		if err != nil {
			// Sealed under another key or corrupted: it can never be read
			// again, so treat it as absent and drop it.
			s.logger.Warn("dropping unreadable slot", "key", key, "error", err)
			delete(doc.Slots, key)
			if err := s.write(doc); err != nil {
				s.logger.Warn("drop unreadable slot", "key", key, "error", err)
			}
			return store.Slot{}, store.ErrNotFound
		}
		slot.Value = plain
	}
	return slot, nil
}

func (s *Store) Set(_ context.Context, slot store.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if s.box != nil {
		sealed, err := s.box.Seal(slot.Key, slot.Value)
		if err != nil {
			return err
		}
		slot.Value = sealed
	}
	doc.Slots[slot.Key] = slot
	return s.write(doc)
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Slots[key]; !ok {
		return nil
	}
	delete(doc.Slots, key)
	return s.write(doc)
}

func (s *Store) read() (document, error) {
	doc := document{Slots: make(map[string]store.Slot)}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("file store: read: %w", err)
	}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("file store: decode %s: %w", s.path, err)
	}
	if doc.Slots == nil {
		doc.Slots = make(map[string]store.Slot)
	}
	return doc, nil
}

func (s *Store) write(doc document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".slots-*")
	if err != nil {
		return fmt.Errorf("file store: temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

var _ store.Slots = (*Store)(nil)
