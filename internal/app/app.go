// Package app wires the storefront client engines from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"storefront/internal/api"
	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/coordinator"
	"storefront/internal/notify"
	"storefront/internal/security/secretbox"
	"storefront/internal/session"
	"storefront/internal/store"
	"storefront/internal/store/file"
	"storefront/internal/store/memory"
	"storefront/internal/store/postgres"
	redisstore "storefront/internal/store/redis"
)

type Options struct {
	// Slots overrides the configured slot backend.
	Slots      store.Slots
	HTTPClient *http.Client
	Indicator  coordinator.Indicator
	Navigator  coordinator.Navigator
	Notifier   notify.Notifier
	Registerer prometheus.Registerer
}

type App struct {
	Config      config.Config
	Slots       store.Slots
	Coordinator *coordinator.Coordinator
	API         *api.Client
	Session     *session.Store
	Cart        *cart.Engine
	Checkout    *checkout.Machine
	Catalog     *catalog.Catalog
	Notifier    notify.Notifier

	logger  *slog.Logger
	closers []io.Closer
}

func New(cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	slots := opts.Slots
	if slots == nil {
		var err error
		if slots, err = a.openSlots(); err != nil {
			return nil, err
		}
	}
	a.Slots = slots

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLog(logger)
		if cfg.Notify.WebhookURL != "" {
			notifier = notify.Multi{notifier, notify.NewWebhook(cfg.Notify.WebhookURL, "storefront", cfg.Notify.Timeout)}
		}
	}
	a.Notifier = notifier

	navigator := opts.Navigator
	if navigator == nil {
		navigator = coordinator.NavigatorFunc(func(context.Context) {
			logger.Warn("session ended, sign in again")
		})
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.API.Timeout}
	}

	// The coordinator reads the token through the session store, which in
	// turn talks through the coordinator.
	tokens := &lateTokens{}
	a.Coordinator = coordinator.New(coordinator.Options{
		HTTPClient: httpClient,
		Tokens:     tokens,
		Navigator:  navigator,
		Indicator:  opts.Indicator,
		AuthScheme: cfg.API.AuthScheme,
		Registerer: opts.Registerer,
		Logger:     logger,
	})
	a.API = api.New(a.Coordinator, cfg.API.BaseURL, cfg.API.Path)
	a.Session = session.New(a.API, slots, session.Options{
		LoggedOutMessage: cfg.API.LoggedOutMessage,
		Logger:           logger,
	})
	tokens.src = a.Session
	a.Coordinator.OnUnauthorized(a.Session.Invalidate)

	a.Cart = cart.NewEngine(a.API, notifier, logger)
	a.Checkout = checkout.New(a.API, a.Cart, slots, checkout.Options{Notifier: notifier, Logger: logger})
	a.Catalog = catalog.New(a.API, notifier, logger)
	return a, nil
}

func (a *App) openSlots() (store.Slots, error) {
	cfg := a.Config.Slots
	switch cfg.Mode {
	case "memory":
		return memory.NewStore(), nil
	case "file":
		var box *secretbox.Box
		if cfg.Key != "" {
			var err error
			if box, err = secretbox.New(cfg.Key); err != nil {
				return nil, fmt.Errorf("slot key: %w", err)
			}
		}
		return file.NewStore(cfg.File, box, a.logger)
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, client)
		return redisstore.NewStore(client, "storefront"), nil
	case "postgres":
		st, err := postgres.NewStore(cfg.DatabaseURL, "")
		if err != nil {
			return nil, fmt.Errorf("postgres slots: %w", err)
		}
		a.closers = append(a.closers, st)
		return st, nil
	default:
		return nil, fmt.Errorf("slots mode %q not supported", cfg.Mode)
	}
}

// Hydrate restores durable state on startup: an expired token is dropped and
// an order left in payment is resumed.
func (a *App) Hydrate(ctx context.Context) error {
	var errs []error
	if err := a.Session.DropExpired(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}
	if step, err := a.Checkout.Resume(ctx); err != nil {
		errs = append(errs, fmt.Errorf("checkout: %w", err))
	} else {
		a.logger.Debug("hydrated", "step", step, "session", a.Session.Status())
	}
	return errors.Join(errs...)
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type lateTokens struct {
	src coordinator.TokenSource
}

func (t *lateTokens) Token(ctx context.Context) (string, error) {
	if t.src == nil {
		return "", nil
	}
	return t.src.Token(ctx)
}
