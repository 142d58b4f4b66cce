// Package checkout drives the Cart → Checkout → Payment workflow. The only
// durable piece is the last created order id, which lets an unpaid order be
// picked up again after a restart.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront/internal/coordinator"
	"storefront/internal/domain"
	"storefront/internal/notify"
	"storefront/internal/pagination"
	"storefront/internal/store"
)

type Step string

const (
	StepCart     Step = "CART"
	StepCheckout Step = "CHECKOUT"
	StepPayment  Step = "PAYMENT"
)

var (
	ErrEmptyCart  = errors.New("cart is empty")
	ErrInProgress = errors.New("already in progress")
	ErrWrongStep  = errors.New("not allowed at this step")
)

type API interface {
	CreateOrder(ctx context.Context, customer domain.Customer, message string) (string, error)
	Order(ctx context.Context, id string) (domain.Order, error)
	Orders(ctx context.Context, page int) ([]domain.Order, domain.Pagination, error)
	Pay(ctx context.Context, orderID string) error
}

// Cart is what the machine needs from the cart engine.
type Cart interface {
	Fetch(ctx context.Context) error
	Empty() bool
}

type Options struct {
	Notifier notify.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
}

type Machine struct {
	api      API
	cart     Cart
	slots    store.Slots
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	resumes singleflight.Group

	mu         sync.Mutex
	step       Step
	order      *domain.Order
	submitting bool
	paying     bool
}

func New(client API, cart Cart, slots store.Slots, opts Options) *Machine {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		api:      client,
		cart:     cart,
		slots:    slots,
		notifier: notifier,
		logger:   logger.With("component", "checkout"),
		now:      now,
		step:     StepCart,
	}
}

// State is a copy of the machine's current state.
type State struct {
	Step       Step
	Order      *domain.Order
	Submitting bool
	Paying     bool
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{Step: m.step, Submitting: m.submitting, Paying: m.paying}
	if m.order != nil {
		o := *m.order
		st.Order = &o
	}
	return st
}

func (m *Machine) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

func (m *Machine) transition(to Step) {
	from := m.step
	m.step = to
	if from != to {
		m.logger.Info("checkout step", "from", from, "to", to)
	}
}

// Resume rebuilds the workflow from the durable order slot. With a stored
// id and no order in memory it fetches the order and enters PAYMENT; if the
// fetch fails the id is discarded and the machine resets to CART.
func (m *Machine) Resume(ctx context.Context) (Step, error) {
	step, err := coordinator.Shared(ctx, &m.resumes, "resume", m.resume)
	if err != nil {
		return m.Step(), err
	}
	return step, nil
}

func (m *Machine) resume(ctx context.Context) (Step, error) {
	m.mu.Lock()
	if m.order != nil {
		step := m.step
		m.mu.Unlock()
		return step, nil
	}
	m.mu.Unlock()

	slot, err := m.slots.Get(ctx, store.KeyLastOrder)
	if errors.Is(err, store.ErrNotFound) {
		return m.Step(), nil
	}
	if err != nil {
		return m.Step(), fmt.Errorf("read order slot: %w", err)
	}

	log := m.logger.With("order_id", slot.Value)
	order, err := m.api.Order(ctx, slot.Value)
	if err != nil {
		log.Warn("stored order unavailable; discarding", "error", err)
		delErr := m.slots.Delete(ctx, store.KeyLastOrder)
		m.mu.Lock()
		m.order = nil
		m.transition(StepCart)
		m.mu.Unlock()
		if delErr != nil {
			return StepCart, fmt.Errorf("discard order slot: %w", delErr)
		}
		return StepCart, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = &order
	m.transition(StepPayment)
	log.Info("resumed order", "paid", order.IsPaid)
	return StepPayment, nil
}

// Proceed moves CART → CHECKOUT. A stored order is resumed first, and an
// empty cart is refused with a warning.
func (m *Machine) Proceed(ctx context.Context) error {
	switch m.Step() {
	case StepCheckout:
		return nil
	case StepPayment:
		return fmt.Errorf("proceed from %s: %w", StepPayment, ErrWrongStep)
	}

	step, err := m.Resume(ctx)
	if err != nil {
		return err
	}
	if step == StepPayment {
		return nil
	}

	if err := m.cart.Fetch(ctx); err != nil {
		return err
	}
	if m.cart.Empty() {
		m.notify(ctx, notify.LevelWarning, "your cart is empty")
		return ErrEmptyCart
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step == StepCart {
		m.transition(StepCheckout)
	}
	return nil
}

// Back returns from CHECKOUT to CART.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.step {
	case StepCart:
		return nil
	case StepCheckout:
		m.transition(StepCart)
		return nil
	default:
		return fmt.Errorf("back from %s: %w", m.step, ErrWrongStep)
	}
}

// Submit validates the form, creates the order, stores its id, loads the
// full record and refreshes the emptied cart before entering PAYMENT.
// A second submit while one is running is refused.
func (m *Machine) Submit(ctx context.Context, form Form) error {
	if err := form.Validate(); err != nil {
		return err
	}
	form = form.normalized()

	m.mu.Lock()
	if m.step != StepCheckout {
		step := m.step
		m.mu.Unlock()
		return fmt.Errorf("submit at %s: %w", step, ErrWrongStep)
	}
	if m.submitting {
		m.mu.Unlock()
		return fmt.Errorf("submit: %w", ErrInProgress)
	}
	m.submitting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.submitting = false
		m.mu.Unlock()
	}()

	id, err := m.api.CreateOrder(ctx, form.Customer, form.Message)
	if err != nil {
		m.notifyFailure(ctx, "could not place order", err)
		return fmt.Errorf("create order: %w", err)
	}
	log := m.logger.With("order_id", id)

	if err := m.slots.Set(ctx, store.Slot{Key: store.KeyLastOrder, Value: id}); err != nil {
		log.Error("persist order id failed", "error", err)
		m.notify(ctx, notify.LevelWarning, "order placed but could not be saved for later")
	}

	order, err := m.api.Order(ctx, id)
	if err != nil {
		m.notifyFailure(ctx, "order placed but could not be loaded", err)
		return fmt.Errorf("load order %s: %w", id, err)
	}

	if err := m.cart.Fetch(ctx); err != nil {
		log.Warn("cart refresh after order failed", "error", err)
		m.notify(ctx, notify.LevelWarning, "cart could not be refreshed")
	}

	m.mu.Lock()
	m.order = &order
	m.transition(StepPayment)
	m.mu.Unlock()
	log.Info("order created")
	m.notify(ctx, notify.LevelSuccess, "order created")
	return nil
}

// Pay settles the loaded order. Paying an order already paid is a no-op and
// a second call while one is outstanding is refused.
func (m *Machine) Pay(ctx context.Context) error {
	m.mu.Lock()
	if m.step != StepPayment || m.order == nil {
		step := m.step
		m.mu.Unlock()
		return fmt.Errorf("pay at %s: %w", step, ErrWrongStep)
	}
	if m.paying {
		m.mu.Unlock()
		return fmt.Errorf("pay: %w", ErrInProgress)
	}
	if m.order.IsPaid {
		m.mu.Unlock()
		return nil
	}
	m.paying = true
	id := m.order.ID
	m.mu.Unlock()

	err := m.api.Pay(ctx, id)
	if coordinator.IsRejection(err) {
		// The order may already be paid or gone; show what the server has.
		m.reload(ctx, id)
	}

	m.mu.Lock()
	m.paying = false
	if err == nil && m.order != nil && m.order.ID == id {
		m.order.IsPaid = true
		m.order.PaidDate = m.now().Unix()
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("payment failed", "order_id", id, "error", err)
		m.notifyFailure(ctx, "payment failed", err)
		return fmt.Errorf("pay order %s: %w", id, err)
	}
	m.logger.Info("order paid", "order_id", id)
	m.notify(ctx, notify.LevelSuccess, "payment complete")
	return nil
}

// reload replaces the held order with the server's copy if it is still the
// one on screen.
func (m *Machine) reload(ctx context.Context, id string) {
	o, err := m.api.Order(ctx, id)
	if err != nil {
		m.logger.Warn("reload order failed", "order_id", id, "error", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order != nil && m.order.ID == id {
		*m.order = o
	}
}

// ReturnToCart leaves PAYMENT. A paid order closes the loop and the stored
// id is deleted; an unpaid one keeps its id so the next entry resumes it.
func (m *Machine) ReturnToCart(ctx context.Context) error {
	m.mu.Lock()
	paid := m.order != nil && m.order.IsPaid
	m.order = nil
	m.transition(StepCart)
	m.mu.Unlock()

	if !paid {
		return nil
	}
	if err := m.slots.Delete(ctx, store.KeyLastOrder); err != nil {
		return fmt.Errorf("clear order slot: %w", err)
	}
	return nil
}

// History is one page of past orders.
type History struct {
	Orders []domain.Order
	Meta   domain.Pagination
	Window pagination.Window
}

func (m *Machine) Orders(ctx context.Context, page int) (History, error) {
	if page < 1 {
		page = 1
	}
	orders, meta, err := m.api.Orders(ctx, page)
	if err != nil {
		return History{}, fmt.Errorf("list orders: %w", err)
	}
	return History{Orders: orders, Meta: meta, Window: pagination.Compute(page, meta)}, nil
}

func (m *Machine) notify(ctx context.Context, level notify.Level, msg string) {
	if err := m.notifier.Notify(ctx, level, msg); err != nil {
		m.logger.Warn("notify failed", "error", err)
	}
}

func (m *Machine) notifyFailure(ctx context.Context, what string, err error) {
	if errors.Is(err, coordinator.ErrUnauthorized) {
		return
	}
	m.notify(ctx, notify.LevelError, what+": "+coordinator.MessageOf(err))
}
