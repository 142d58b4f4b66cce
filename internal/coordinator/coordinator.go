// Package coordinator wraps every outbound storefront call. It stamps the
// session token, drives the shared busy indicator and turns any 401 into an
// immediate session eviction.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"storefront/internal/logging"
)

// TokenSource yields the current session token, or "" when there is none.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Navigator moves the user to the login entry point.
type Navigator interface {
	ToLogin(ctx context.Context)
}

type NavigatorFunc func(ctx context.Context)

func (f NavigatorFunc) ToLogin(ctx context.Context) { f(ctx) }

// UnauthorizedHook runs on every 401 before the redirect.
type UnauthorizedHook func(ctx context.Context, reason string)

type Options struct {
	HTTPClient *http.Client
	Tokens     TokenSource
	Navigator  Navigator
	Indicator  Indicator
	// AuthScheme prefixes the token in the Authorization header. Empty sends
	// the raw token, which is what the storefront API expects.
	AuthScheme string
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

type Request struct {
	Method string
	URL    string
	// JSON is encoded as the request body when set.
	JSON any
	// Body and ContentType are used for non-JSON payloads such as uploads.
	Body        io.Reader
	ContentType string
	// Silent calls never touch the busy indicator.
	Silent bool
}

type Coordinator struct {
	client     *http.Client
	tokens     TokenSource
	navigator  Navigator
	authScheme string
	logger     *slog.Logger
	metrics    *metrics
	busy       *busy

	hooksMu sync.RWMutex
	hooks   []UnauthorizedHook
}

func New(opts Options) *Coordinator {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		client:     client,
		tokens:     opts.Tokens,
		navigator:  opts.Navigator,
		authScheme: opts.AuthScheme,
		logger:     logger.With("component", "coordinator"),
		metrics:    newMetrics(opts.Registerer),
	}
	c.busy = &busy{indicator: opts.Indicator, onChange: c.metrics.setVisible}
	return c
}

// OnUnauthorized registers a hook run on every 401, in registration order.
func (c *Coordinator) OnUnauthorized(hook UnauthorizedHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// InFlight is the number of visible calls currently outstanding.
func (c *Coordinator) InFlight() int {
	return c.busy.load()
}

// Busy reports whether the indicator is currently shown.
func (c *Coordinator) Busy() bool {
	return c.InFlight() > 0
}

// Do sends req and decodes a 2xx JSON body into out (which may be nil).
func (c *Coordinator) Do(ctx context.Context, req Request, out any) error {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return err
	}
	if !req.Silent {
		c.busy.acquire()
		defer c.busy.release()
	}

	requestID := httpReq.Header.Get("X-Request-ID")
	log := logging.FromCtx(ctx, c.logger).With("method", req.Method, "url", req.URL, "request_id", requestID)
	started := time.Now()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.metrics.observe(req.Method, 0, started)
		log.Warn("request failed", "error", err)
		return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	c.metrics.observe(req.Method, resp.StatusCode, started)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, req.URL, err)
	}

	var env envelope
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		statusErr := &StatusError{Method: req.Method, URL: req.URL, Status: resp.StatusCode, Message: decodeMessage(env.Message)}
		log.Warn("session rejected by server", "status", resp.StatusCode)
		c.interrupt(ctx, statusErr.Error())
		return statusErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || (env.Success != nil && !*env.Success) {
		statusErr := &StatusError{Method: req.Method, URL: req.URL, Status: resp.StatusCode, Message: decodeMessage(env.Message)}
		log.Info("request rejected", "status", resp.StatusCode, "message", statusErr.Message)
		return statusErr
	}
	log.Debug("request done", "status", resp.StatusCode, "elapsed", time.Since(started))

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", req.Method, req.URL, err)
	}
	return nil
}

func (c *Coordinator) build(ctx context.Context, req Request) (*http.Request, error) {
	body := req.Body
	contentType := req.ContentType
	if req.JSON != nil {
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode: %w", req.Method, req.URL, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("read session token: %w", err)
		}
		if token != "" {
			if c.authScheme != "" {
				token = c.authScheme + " " + token
			}
			httpReq.Header.Set("Authorization", token)
		}
	}
	return httpReq, nil
}

// interrupt evicts the session and redirects, whatever else is in flight.
func (c *Coordinator) interrupt(ctx context.Context, reason string) {
	c.hooksMu.RLock()
	hooks := make([]UnauthorizedHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, reason)
	}
	if c.navigator != nil {
		c.navigator.ToLogin(ctx)
	}
}
