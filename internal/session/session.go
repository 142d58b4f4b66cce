// Package session owns the authentication session: its status and the
// durable token slot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"storefront/internal/api"
	"storefront/internal/coordinator"
	"storefront/internal/domain"
	"storefront/internal/store"
)

var (
	ErrNoToken      = errors.New("signin response carried no token")
	ErrTokenExpired = errors.New("token already expired")
)

// API is the subset of the REST client the session needs.
type API interface {
	Signin(ctx context.Context, creds domain.Credentials) (api.SigninResult, error)
	Logout(ctx context.Context) error
	CheckSession(ctx context.Context) error
}

type Options struct {
	// LoggedOutMessage is the /logout error message that means the session
	// was already gone.
	LoggedOutMessage string
	Logger           *slog.Logger
	Now              func() time.Time
}

type Store struct {
	api              API
	slots            store.Slots
	loggedOutMessage string
	logger           *slog.Logger
	now              func() time.Time

	checks singleflight.Group

	mu     sync.RWMutex
	status domain.SessionStatus
}

func New(client API, slots store.Slots, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		api:              client,
		slots:            slots,
		loggedOutMessage: opts.LoggedOutMessage,
		logger:           logger.With("component", "session"),
		now:              now,
		status:           domain.SessionUnknown,
	}
}

func (s *Store) Status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) setStatus(st domain.SessionStatus) {
	s.mu.Lock()
	prev := s.status
	s.status = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("session status changed", "from", prev, "to", st)
	}
}

// Token reads the durable slot. An absent or expired token is "".
func (s *Store) Token(ctx context.Context) (string, error) {
	slot, err := s.slots.Get(ctx, store.KeyToken)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token slot: %w", err)
	}
	return slot.Value, nil
}

// Check asks the server whether the stored token is still good. Concurrent
// callers share one request; Status reports unknown until it settles. A
// missing token settles to unauthenticated without a network call.
func (s *Store) Check(ctx context.Context) (domain.SessionStatus, error) {
	status, err := coordinator.Shared(ctx, &s.checks, "check", s.check)
	if err != nil {
		return s.Status(), err
	}
	return status, nil
}

func (s *Store) check(ctx context.Context) (domain.SessionStatus, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return domain.SessionUnknown, err
	}
	if token == "" {
		s.setStatus(domain.SessionUnauthenticated)
		return domain.SessionUnauthenticated, nil
	}

	s.setStatus(domain.SessionUnknown)
	err = s.api.CheckSession(ctx)
	switch {
	case err == nil:
		s.setStatus(domain.SessionAuthenticated)
		return domain.SessionAuthenticated, nil
	case isRejection(err):
		s.logger.Info("session check rejected", "status", coordinator.StatusOf(err))
		s.setStatus(domain.SessionUnauthenticated)
		return domain.SessionUnauthenticated, nil
	default:
		s.logger.Warn("session check failed", "error", err)
		return domain.SessionUnknown, fmt.Errorf("check session: %w", err)
	}
}

// isRejection is a definitive "not signed in" answer as opposed to a fault.
func isRejection(err error) bool {
	status := coordinator.StatusOf(err)
	return status >= 400 && status < 500
}

// Login signs in and replaces any stored token. The old token is cleared
// before the new one is written.
func (s *Store) Login(ctx context.Context, creds domain.Credentials) error {
	res, err := s.api.Signin(ctx, creds)
	if err != nil {
		return fmt.Errorf("signin: %w", err)
	}
	if res.Token == "" {
		return ErrNoToken
	}
	expires := s.expiry(res)
	if !expires.IsZero() && !s.now().Before(expires) {
		return ErrTokenExpired
	}

	if err := s.slots.Delete(ctx, store.KeyToken); err != nil {
		return fmt.Errorf("clear token slot: %w", err)
	}
	if err := s.slots.Set(ctx, store.Slot{Key: store.KeyToken, Value: res.Token, ExpiresAt: expires}); err != nil {
		s.setStatus(domain.SessionUnauthenticated)
		return fmt.Errorf("write token slot: %w", err)
	}
	s.setStatus(domain.SessionAuthenticated)
	s.logger.Info("signed in", "expires_at", expires)
	return nil
}

// expiry prefers the server's expired field and falls back to the token's
// own exp claim.
func (s *Store) expiry(res api.SigninResult) time.Time {
	if res.Expired > 0 {
		return time.UnixMilli(res.Expired)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(res.Token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Logout asks the server to end the session, then always clears the local
// token. The server's already-logged-out answer counts as success.
func (s *Store) Logout(ctx context.Context) error {
	remoteErr := s.api.Logout(ctx)
	if remoteErr != nil && s.alreadyLoggedOut(remoteErr) {
		s.logger.Info("server reports session already ended")
		remoteErr = nil
	}

	clearErr := s.slots.Delete(ctx, store.KeyToken)
	s.setStatus(domain.SessionUnauthenticated)

	if remoteErr != nil {
		s.logger.Warn("remote logout failed; local session cleared", "error", remoteErr)
		remoteErr = fmt.Errorf("logout: %w", remoteErr)
	}
	if clearErr != nil {
		clearErr = fmt.Errorf("clear token slot: %w", clearErr)
	}
	return errors.Join(remoteErr, clearErr)
}

func (s *Store) alreadyLoggedOut(err error) bool {
	return s.loggedOutMessage != "" &&
		coordinator.StatusOf(err) == http.StatusBadRequest &&
		coordinator.MessageOf(err) == s.loggedOutMessage
}

// Invalidate drops the session. The coordinator calls it on every 401.
func (s *Store) Invalidate(ctx context.Context, reason string) {
	if err := s.slots.Delete(ctx, store.KeyToken); err != nil {
		s.logger.Error("clear token slot", "error", err)
	}
	s.setStatus(domain.SessionUnauthenticated)
	s.logger.Warn("session invalidated", "reason", reason)
}

// DropExpired removes a token slot whose expiry has passed. Startup
// hydration calls it once.
func (s *Store) DropExpired(ctx context.Context) error {
	_, err := s.slots.Get(ctx, store.KeyToken)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("read token slot: %w", err)
	}
	// Expired slots read as not found but may still be held.
	if err := s.slots.Delete(ctx, store.KeyToken); err != nil {
		return fmt.Errorf("clear token slot: %w", err)
	}
	s.setStatus(domain.SessionUnauthenticated)
	return nil
}
