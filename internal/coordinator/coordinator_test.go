package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/logging"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

type edgeRecorder struct {
	mu    sync.Mutex
	edges []string
}

func (r *edgeRecorder) Show() { r.add("show") }
func (r *edgeRecorder) Hide() { r.add("hide") }

func (r *edgeRecorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, e)
}

func (r *edgeRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.edges...)
}

func newCoordinator(t *testing.T, tokens TokenSource, ind Indicator, nav Navigator) *Coordinator {
	t.Helper()
	return New(Options{
		Tokens:    tokens,
		Indicator: ind,
		Navigator: nav,
		Logger:    logging.Discard(),
	})
}

func TestDo_StampsTokenAndRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"success":true,"value":42}`))
	}))
	defer srv.Close()

	c := newCoordinator(t, staticTokens("tok-1"), nil, nil)
	var out struct {
		Value int `json:"value"`
	}
	err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, JSON: map[string]int{"a": 1}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.Value)
}

func TestDo_AuthSchemePrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	c := New(Options{Tokens: staticTokens("tok-1"), AuthScheme: "Bearer", Logger: logging.Discard()})
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, nil))
}

func TestDo_NoTokenNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Authorization"]
		assert.False(t, present)
	}))
	defer srv.Close()

	c := newCoordinator(t, staticTokens(""), nil, nil)
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, nil))
}

func TestDo_ErrorMessageDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":["title required","price required"]}`))
	}))
	defer srv.Close()

	rec := &edgeRecorder{}
	c := newCoordinator(t, nil, rec, nil)
	err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
	assert.Equal(t, "title required; price required", MessageOf(err))
	assert.Equal(t, []string{"show", "hide"}, rec.get())
	assert.Equal(t, 0, c.InFlight())
}

func TestDo_SuccessFalseIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"out of stock"}`))
	}))
	defer srv.Close()

	c := newCoordinator(t, nil, nil, nil)
	err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, nil)
	require.Error(t, err)
	assert.Equal(t, "out of stock", MessageOf(err))
}

func TestDo_TransportErrorReleasesIndicator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	rec := &edgeRecorder{}
	c := newCoordinator(t, nil, rec, nil)
	err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: url}, nil)
	require.Error(t, err)
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, []string{"show", "hide"}, rec.get())
}

func TestDo_SilentSkipsIndicator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	rec := &edgeRecorder{}
	c := newCoordinator(t, nil, rec, nil)
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Silent: true}, nil))
	assert.Empty(t, rec.get())
}

func TestBusyIndicator_ConcurrentRequestsShowOnceHideOnce(t *testing.T) {
	const n = 8
	arrived := make(chan struct{}, n)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		if r.URL.Query().Get("fail") == "1" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	rec := &edgeRecorder{}
	c := newCoordinator(t, nil, rec, nil)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		url := srv.URL
		if i%2 == 0 {
			url += "?fail=1"
		}
		go func() {
			defer wg.Done()
			_ = c.Do(context.Background(), Request{Method: http.MethodGet, URL: url}, nil)
		}()
	}
	for i := 0; i < n; i++ {
		<-arrived
	}
	assert.Equal(t, n, c.InFlight())
	assert.True(t, c.Busy())
	assert.Equal(t, []string{"show"}, rec.get())

	close(release)
	wg.Wait()

	assert.Equal(t, 0, c.InFlight())
	assert.False(t, c.Busy())
	assert.Equal(t, []string{"show", "hide"}, rec.get())
}

func TestUnauthorized_InterruptsWhileOthersInFlight(t *testing.T) {
	arrived := make(chan struct{}, 3)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/denied" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"token expired"}`))
			return
		}
		arrived <- struct{}{}
		<-release
	}))
	defer srv.Close()

	var invalidated, redirected atomic.Int32
	rec := &edgeRecorder{}
	c := newCoordinator(t, staticTokens("stale"), rec, NavigatorFunc(func(context.Context) {
		redirected.Add(1)
	}))
	c.OnUnauthorized(func(_ context.Context, reason string) {
		invalidated.Add(1)
		assert.Contains(t, reason, "token expired")
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL + "/slow"}, nil)
		}()
	}
	for i := 0; i < 3; i++ {
		<-arrived
	}

	err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL + "/denied"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, int32(1), invalidated.Load())
	assert.Equal(t, int32(1), redirected.Load())
	assert.Equal(t, 3, c.InFlight())

	close(release)
	wg.Wait()
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, []string{"show", "hide"}, rec.get())
}

func TestMetricsTrackRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	c := New(Options{Registerer: reg, Logger: logging.Discard()})
	_ = c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.requests.WithLabelValues(http.MethodGet, "404")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.metrics.visible))
}
