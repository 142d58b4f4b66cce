package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/app"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/coordinator"
	"storefront/internal/domain"
	"storefront/internal/logging"
	"storefront/internal/notify"
	"storefront/internal/store"
	"storefront/internal/store/memory"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.API.Path = "shop"
	cfg.API.Timeout = 5 * time.Second
	cfg.API.LoggedOutMessage = config.DefaultLoggedOutMessage
	cfg.Slots.Mode = "memory"
	cfg.Devserver.APIPath = "shop"
	cfg.Devserver.AdminUsername = "admin@example.com"
	cfg.Devserver.AdminPassword = "pw"
	cfg.Devserver.JWTSecret = "jwt-secret"
	cfg.Devserver.TokenTTL = time.Hour
	cfg.Devserver.PageSize = 4
	return cfg
}

type harness struct {
	cfg      config.Config
	srv      *httptest.Server
	shop     *Shop
	slots    *memory.Store
	logins   atomic.Int32
	notifier *notify.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	shop := NewShop(SeedProducts()...)
	s, err := NewServer(cfg, shop, logging.Discard())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	cfg.API.BaseURL = ts.URL
	return &harness{cfg: cfg, srv: ts, shop: shop, slots: memory.NewStore(), notifier: &notify.Recorder{}}
}

// client builds a fresh engine over the shared slots, as a restarted client
// would.
func (h *harness) client(t *testing.T) *app.App {
	t.Helper()
	a, err := app.New(h.cfg, logging.Discard(), app.Options{
		Slots:      h.slots,
		Notifier:   h.notifier,
		Registerer: prometheus.NewRegistry(),
		Navigator:  coordinator.NavigatorFunc(func(context.Context) { h.logins.Add(1) }),
	})
	require.NoError(t, err)
	require.NoError(t, a.Hydrate(context.Background()))
	return a
}

func validForm() checkout.Form {
	return checkout.Form{
		Customer: domain.Customer{Name: "林小美", Email: "amy@example.com", Tel: "0912345678", Address: "台北市信義區"},
		Message:  "請下午送達",
	}
}

func TestE2E_ShopperFlowWithResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.client(t)

	products, err := a.Catalog.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 6)
	assert.ElementsMatch(t, []string{"塔派", "甜點", "禮盒", "蛋糕"}, catalog.Categories(products))

	assert.ErrorIs(t, a.Checkout.Proceed(ctx), checkout.ErrEmptyCart)
	assert.Equal(t, checkout.StepCart, a.Checkout.Step())

	require.NoError(t, a.Cart.AddItem(ctx, products[0].ID, 1))
	require.NoError(t, a.Cart.AddItem(ctx, products[1].ID, 2))
	view := a.Cart.View()
	require.Len(t, view.Lines, 2)

	line := view.Lines[0]
	require.NoError(t, a.Cart.UpdateQty(ctx, line.ID, 2))
	got, ok := a.Cart.Line(line.ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.ConfirmedQty)
	assert.False(t, got.Pending)
	assert.False(t, a.Coordinator.Busy())

	require.NoError(t, a.Checkout.Proceed(ctx))
	require.NoError(t, a.Checkout.Submit(ctx, validForm()))
	state := a.Checkout.State()
	assert.Equal(t, checkout.StepPayment, state.Step)
	require.NotNil(t, state.Order)
	assert.False(t, state.Order.IsPaid)
	assert.True(t, a.Cart.Empty())

	slot, err := h.slots.Get(ctx, store.KeyLastOrder)
	require.NoError(t, err)
	assert.Equal(t, state.Order.ID, slot.Value)

	// A restarted client picks the order back up.
	b := h.client(t)
	resumed := b.Checkout.State()
	assert.Equal(t, checkout.StepPayment, resumed.Step)
	require.NotNil(t, resumed.Order)
	assert.Equal(t, state.Order.ID, resumed.Order.ID)

	require.NoError(t, b.Checkout.Pay(ctx))
	paid := b.Checkout.State()
	assert.True(t, paid.Order.IsPaid)
	assert.NotZero(t, paid.Order.PaidDate)
	require.NoError(t, b.Checkout.Pay(ctx), "paying twice is a no-op")

	require.NoError(t, b.Checkout.ReturnToCart(ctx))
	assert.Equal(t, checkout.StepCart, b.Checkout.Step())
	_, err = h.slots.Get(ctx, store.KeyLastOrder)
	assert.ErrorIs(t, err, store.ErrNotFound)

	history, err := b.Checkout.Orders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history.Orders, 1)
	assert.True(t, history.Orders[0].IsPaid)
	assert.False(t, history.Window.Visible)
}

func TestE2E_ResumeDiscardsUnknownOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.slots.Set(ctx, store.Slot{Key: store.KeyLastOrder, Value: "gone"}))

	a := h.client(t)
	assert.Equal(t, checkout.StepCart, a.Checkout.Step())
	_, err := h.slots.Get(ctx, store.KeyLastOrder)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestE2E_CartClearAndStockBound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.client(t)

	products, err := a.Catalog.Products(ctx)
	require.NoError(t, err)
	var boxed domain.Product
	for _, p := range products {
		if p.Num == 3 {
			boxed = p
		}
	}
	require.NotEmpty(t, boxed.ID)

	err = a.Cart.AddItem(ctx, boxed.ID, 4)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, coordinator.StatusOf(err))
	last, ok := h.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, last.Level)

	require.NoError(t, a.Cart.AddItem(ctx, boxed.ID, 3))
	require.False(t, a.Cart.Empty())
	require.NoError(t, a.Cart.ClearAll(ctx))
	assert.True(t, a.Cart.Empty())
	assert.Empty(t, h.shop.Cart().Lines)
}

func TestE2E_AdminSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.client(t)

	status, err := a.Session.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionUnauthenticated, status)

	err = a.Session.Login(ctx, domain.Credentials{Username: "admin@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, coordinator.StatusOf(err))

	require.NoError(t, a.Session.Login(ctx, domain.Credentials{Username: "admin@example.com", Password: "pw"}))
	slot, err := h.slots.Get(ctx, store.KeyToken)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), slot.ExpiresAt, time.Minute)

	status, err = a.Session.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAuthenticated, status)

	page, err := a.Catalog.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, page.Products, 2)
	assert.Equal(t, 2, page.Meta.TotalPages)
	assert.True(t, page.Window.HasPrev)
	assert.False(t, page.Window.HasNext)
	assert.Equal(t, []int{1, 2}, page.Window.Buttons)

	imageURL, err := a.Catalog.Upload(ctx, "roll.png", strings.NewReader("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, err)
	resp, err := http.Get(imageURL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "\x89PNG\r\n\x1a\nfake", string(body))

	priced := h.shop.AllProducts()[0]
	saved, err := a.Catalog.Save(ctx, domain.Product{
		Title: "黑糖珍奶蛋糕", Category: "蛋糕", Subcategory: "roll", Unit: "個",
		Description: "黑糖", Content: "黑糖與珍珠", ImageURL: imageURL,
		OriginPrice: priced.OriginPrice, Price: priced.Price, IsEnabled: 1,
	})
	require.NoError(t, err)
	assert.Len(t, h.shop.AllProducts(), 7)
	assert.Equal(t, 1, saved.Num)

	require.NoError(t, a.Session.Logout(ctx))
	assert.Equal(t, domain.SessionUnauthenticated, a.Session.Status())
	_, err = h.slots.Get(ctx, store.KeyToken)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// A second logout is answered with the already-logged-out message.
	require.NoError(t, a.Session.Logout(ctx))

	_, err = a.Catalog.List(ctx, 1)
	require.ErrorIs(t, err, coordinator.ErrUnauthorized)
	assert.Equal(t, int32(1), h.logins.Load())
	assert.False(t, a.Coordinator.Busy())
}

func TestE2E_RevokedTokenIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.client(t)

	require.NoError(t, a.Session.Login(ctx, domain.Credentials{Username: "admin@example.com", Password: "pw"}))
	stolen, err := h.slots.Get(ctx, store.KeyToken)
	require.NoError(t, err)
	require.NoError(t, a.Session.Logout(ctx))

	// Replaying the old token after logout is refused.
	require.NoError(t, h.slots.Set(ctx, stolen))
	status, err := a.Session.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionUnauthenticated, status)
	_, err = h.slots.Get(ctx, store.KeyToken)
	assert.ErrorIs(t, err, store.ErrNotFound, "the 401 hook clears the slot")
}

func TestServer_HealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `storefront_devserver_requests_total{route="/health",status="200"} 1`)
}
