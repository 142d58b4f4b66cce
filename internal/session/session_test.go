package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/api"
	"storefront/internal/config"
	"storefront/internal/coordinator"
	"storefront/internal/domain"
	"storefront/internal/logging"
	"storefront/internal/store"
	"storefront/internal/store/memory"
)

type fakeAPI struct {
	signin    func(domain.Credentials) (api.SigninResult, error)
	logoutErr error
	check     func(ctx context.Context) error
	checks    atomic.Int32
}

func (f *fakeAPI) Signin(_ context.Context, creds domain.Credentials) (api.SigninResult, error) {
	return f.signin(creds)
}

func (f *fakeAPI) Logout(context.Context) error { return f.logoutErr }

func (f *fakeAPI) CheckSession(ctx context.Context) error {
	f.checks.Add(1)
	if f.check == nil {
		return nil
	}
	return f.check(ctx)
}

// opLog records slot operations in order.
type opLog struct {
	store.Slots
	mu  sync.Mutex
	ops []string
}

func (o *opLog) Set(ctx context.Context, slot store.Slot) error {
	o.mu.Lock()
	o.ops = append(o.ops, "set:"+slot.Key)
	o.mu.Unlock()
	return o.Slots.Set(ctx, slot)
}

func (o *opLog) Delete(ctx context.Context, key string) error {
	o.mu.Lock()
	o.ops = append(o.ops, "delete:"+key)
	o.mu.Unlock()
	return o.Slots.Delete(ctx, key)
}

var testNow = time.Now().UTC().Truncate(time.Second)

func newStore(t *testing.T, f *fakeAPI, slots store.Slots) *Store {
	t.Helper()
	return New(f, slots, Options{
		LoggedOutMessage: config.DefaultLoggedOutMessage,
		Logger:           logging.Discard(),
		Now:              func() time.Time { return testNow },
	})
}

func seedToken(t *testing.T, slots store.Slots, token string) {
	t.Helper()
	require.NoError(t, slots.Set(context.Background(), store.Slot{Key: store.KeyToken, Value: token}))
}

func TestStatusStartsUnknown(t *testing.T) {
	s := newStore(t, &fakeAPI{}, memory.NewStore())
	assert.Equal(t, domain.SessionUnknown, s.Status())
}

func TestCheck_NoTokenSkipsNetwork(t *testing.T) {
	f := &fakeAPI{}
	s := newStore(t, f, memory.NewStore())

	status, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionUnauthenticated, status)
	assert.Equal(t, int32(0), f.checks.Load())
}

func TestCheck_CoalescesAndStaysUnknownWhilePending(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f := &fakeAPI{check: func(context.Context) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}}
	slots := memory.NewStore()
	seedToken(t, slots, "tok")
	s := newStore(t, f, slots)

	const callers = 5
	results := make(chan domain.SessionStatus, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.Check(context.Background())
			assert.NoError(t, err)
			results <- st
		}()
	}

	<-entered
	assert.Equal(t, domain.SessionUnknown, s.Status())
	close(release)
	wg.Wait()
	close(results)

	for st := range results {
		assert.Equal(t, domain.SessionAuthenticated, st)
	}
	assert.Equal(t, domain.SessionAuthenticated, s.Status())
	assert.LessOrEqual(t, f.checks.Load(), int32(callers))
	assert.GreaterOrEqual(t, f.checks.Load(), int32(1))
}

func TestCheck_CancelledCallerDoesNotFailOthers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f := &fakeAPI{check: func(ctx context.Context) error {
		once.Do(func() { close(entered) })
		<-release
		return ctx.Err()
	}}
	slots := memory.NewStore()
	seedToken(t, slots, "tok")
	s := newStore(t, f, slots)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Check(ctx)
		first <- err
	}()
	<-entered
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	second := make(chan domain.SessionStatus, 1)
	go func() {
		st, err := s.Check(context.Background())
		assert.NoError(t, err)
		second <- st
	}()
	close(release)
	assert.Equal(t, domain.SessionAuthenticated, <-second)
	assert.Equal(t, domain.SessionAuthenticated, s.Status())
}

func TestCheck_RejectedIsUnauthenticated(t *testing.T) {
	f := &fakeAPI{check: func(context.Context) error {
		return &coordinator.StatusError{Status: http.StatusBadRequest, Message: "not signed in"}
	}}
	slots := memory.NewStore()
	seedToken(t, slots, "tok")
	s := newStore(t, f, slots)

	status, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionUnauthenticated, status)
}

func TestCheck_ServerFaultStaysUnknown(t *testing.T) {
	f := &fakeAPI{check: func(context.Context) error {
		return &coordinator.StatusError{Status: http.StatusBadGateway}
	}}
	slots := memory.NewStore()
	seedToken(t, slots, "tok")
	s := newStore(t, f, slots)

	status, err := s.Check(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.SessionUnknown, status)
}

func TestLogin_ClearsThenSets(t *testing.T) {
	expires := testNow.Add(2 * time.Hour)
	f := &fakeAPI{signin: func(c domain.Credentials) (api.SigninResult, error) {
		assert.Equal(t, "admin@example.com", c.Username)
		return api.SigninResult{Token: "fresh", Expired: expires.UnixMilli()}, nil
	}}
	slots := &opLog{Slots: memory.NewStore()}
	seedToken(t, slots.Slots, "old")
	s := newStore(t, f, slots)

	require.NoError(t, s.Login(context.Background(), domain.Credentials{Username: "admin@example.com", Password: "pw"}))
	assert.Equal(t, []string{"delete:" + store.KeyToken, "set:" + store.KeyToken}, slots.ops)
	assert.Equal(t, domain.SessionAuthenticated, s.Status())

	slot, err := slots.Get(context.Background(), store.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh", slot.Value)
	assert.True(t, slot.ExpiresAt.Equal(expires))
}

func TestLogin_ExpiryFromJWTClaim(t *testing.T) {
	exp := testNow.Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	f := &fakeAPI{signin: func(domain.Credentials) (api.SigninResult, error) {
		return api.SigninResult{Token: token}, nil
	}}
	slots := memory.NewStore()
	s := newStore(t, f, slots)

	require.NoError(t, s.Login(context.Background(), domain.Credentials{}))
	slot, err := slots.Get(context.Background(), store.KeyToken)
	require.NoError(t, err)
	assert.True(t, slot.ExpiresAt.Equal(exp))
}

func TestLogin_MissingTokenKeepsPrevious(t *testing.T) {
	f := &fakeAPI{signin: func(domain.Credentials) (api.SigninResult, error) {
		return api.SigninResult{}, nil
	}}
	slots := memory.NewStore()
	seedToken(t, slots, "old")
	s := newStore(t, f, slots)

	err := s.Login(context.Background(), domain.Credentials{})
	assert.True(t, errors.Is(err, ErrNoToken))
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", tok)
}

func TestLogin_AlreadyExpired(t *testing.T) {
	f := &fakeAPI{signin: func(domain.Credentials) (api.SigninResult, error) {
		return api.SigninResult{Token: "t", Expired: testNow.Add(-time.Minute).UnixMilli()}, nil
	}}
	s := newStore(t, f, memory.NewStore())

	err := s.Login(context.Background(), domain.Credentials{})
	assert.True(t, errors.Is(err, ErrTokenExpired))
}

func TestLogout_AlreadyLoggedOutIsSuccess(t *testing.T) {
	f := &fakeAPI{logoutErr: &coordinator.StatusError{Status: http.StatusBadRequest, Message: config.DefaultLoggedOutMessage}}
	slots := memory.NewStore()
	seedToken(t, slots, "tok")
	s := newStore(t, f, slots)

	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, domain.SessionUnauthenticated, s.Status())
	tok, _ := s.Token(context.Background())
	assert.Empty(t, tok)
}

func TestLogout_RemoteFailureStillClearsLocally(t *testing.T) {
	f := &fakeAPI{logoutErr: errors.New("connection refused")}
	slots := memory.NewStore()
	seedToken(t, slots, "tok")
	s := newStore(t, f, slots)

	err := s.Logout(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.SessionUnauthenticated, s.Status())
	tok, _ := s.Token(context.Background())
	assert.Empty(t, tok)
}

func TestLogout_OtherBadRequestIsAnError(t *testing.T) {
	f := &fakeAPI{logoutErr: &coordinator.StatusError{Status: http.StatusBadRequest, Message: "something else"}}
	s := newStore(t, f, memory.NewStore())

	require.Error(t, s.Logout(context.Background()))
	assert.Equal(t, domain.SessionUnauthenticated, s.Status())
}

func TestInvalidate(t *testing.T) {
	slots := memory.NewStore()
	seedToken(t, slots, "tok")
	s := newStore(t, &fakeAPI{}, slots)
	_, err := s.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.SessionAuthenticated, s.Status())

	s.Invalidate(context.Background(), "status 401")
	assert.Equal(t, domain.SessionUnauthenticated, s.Status())
	tok, _ := s.Token(context.Background())
	assert.Empty(t, tok)
}

func TestGuard(t *testing.T) {
	ctx := context.Background()

	anon := newStore(t, &fakeAPI{}, memory.NewStore())
	d, err := anon.Guard(ctx, RouteProtected)
	require.NoError(t, err)
	assert.Equal(t, RedirectLogin, d)
	d, err = anon.Guard(ctx, RouteAuth)
	require.NoError(t, err)
	assert.Equal(t, Allow, d)

	slots := memory.NewStore()
	seedToken(t, slots, "tok")
	authed := newStore(t, &fakeAPI{}, slots)
	d, err = authed.Guard(ctx, RouteProtected)
	require.NoError(t, err)
	assert.Equal(t, Allow, d)
	d, err = authed.Guard(ctx, RouteAuth)
	require.NoError(t, err)
	assert.Equal(t, RedirectDashboard, d)

	down := newStore(t, &fakeAPI{check: func(context.Context) error { return errors.New("dial tcp: refused") }}, slots)
	d, err = down.Guard(ctx, RouteProtected)
	require.Error(t, err)
	assert.Equal(t, Checking, d)
}
