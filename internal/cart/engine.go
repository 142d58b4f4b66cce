// Package cart keeps the shopper's cart consistent under overlapping,
// possibly failing edits. Quantity edits are applied optimistically and
// rolled back on failure; the server snapshot is only ever replaced by Fetch.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"storefront/internal/coordinator"
	"storefront/internal/domain"
	"storefront/internal/notify"
)

var (
	ErrInvalidQuantity = errors.New("quantity out of range")
	ErrUnknownLine     = errors.New("no such cart line")
	ErrLineBusy        = errors.New("cart line is already being updated")
	// ErrBusy is returned when a bulk clear and a line edit would overlap.
	ErrBusy = errors.New("cart is busy")
)

// API is the subset of the REST client the engine drives.
type API interface {
	Cart(ctx context.Context) (domain.CartSnapshot, error)
	AddToCart(ctx context.Context, productID string, qty int) error
	UpdateCartLine(ctx context.Context, lineID, productID string, qty int) error
	RemoveCartLine(ctx context.Context, lineID string) error
	ClearCart(ctx context.Context) error
}

// line is the engine's view of one row: the server-confirmed quantity lives
// in data.Qty, an unconfirmed edit in pending.
type line struct {
	data     domain.CartLine
	pending  *int
	updating bool
}

func (l *line) qty() int {
	if l.pending != nil {
		return *l.pending
	}
	return l.data.Qty
}

type Engine struct {
	api      API
	notifier notify.Notifier
	logger   *slog.Logger

	mu         sync.Mutex
	lines      []*line
	total      decimal.Decimal
	finalTotal decimal.Decimal
	loaded     bool
	clearing   bool
	adding     int
	// issued and applied order Fetch results: a response older than the last
	// applied one is dropped.
	issued  uint64
	applied uint64
}

func NewEngine(client API, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		api:      client,
		notifier: notifier,
		logger:   logger.With("component", "cart"),
	}
}

// Fetch replaces the snapshot with the server's. Lines with an edit in
// flight keep their pending quantity and busy mark.
func (e *Engine) Fetch(ctx context.Context) error {
	_, err := e.fetch(ctx)
	return err
}

// fetch reports whether its snapshot was applied. A response that arrives
// after a newer one has been applied is dropped.
func (e *Engine) fetch(ctx context.Context) (bool, error) {
	e.mu.Lock()
	e.issued++
	seq := e.issued
	e.mu.Unlock()

	snap, err := e.api.Cart(ctx)
	if err != nil {
		e.logger.Warn("fetch cart failed", "error", err)
		return false, fmt.Errorf("fetch cart: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if seq <= e.applied {
		e.logger.Debug("dropping stale cart snapshot", "seq", seq, "applied", e.applied)
		return false, nil
	}
	e.applied = seq
	e.replace(snap)
	return true, nil
}

func (e *Engine) replace(snap domain.CartSnapshot) {
	prev := make(map[string]*line, len(e.lines))
	for _, l := range e.lines {
		prev[l.data.ID] = l
	}
	next := make([]*line, 0, len(snap.Lines))
	for _, data := range snap.Lines {
		nl := &line{data: data}
		if old, ok := prev[data.ID]; ok && old.updating {
			nl.pending = old.pending
			nl.updating = true
		}
		next = append(next, nl)
	}
	e.lines = next
	e.total = snap.Total
	e.finalTotal = snap.FinalTotal
	e.loaded = true
}

// invalidateFetches makes every Fetch already in flight stale. Callers hold mu.
func (e *Engine) invalidateFetches() {
	e.issued++
	e.applied = e.issued
}

func (e *Engine) find(id string) *line {
	for _, l := range e.lines {
		if l.data.ID == id {
			return l
		}
	}
	return nil
}

// AddItem puts qty of a product in the cart and refreshes the snapshot.
func (e *Engine) AddItem(ctx context.Context, productID string, qty int) error {
	if qty < 1 || qty > domain.DefaultMaxQty {
		return fmt.Errorf("add %d of %s: %w", qty, productID, ErrInvalidQuantity)
	}
	e.mu.Lock()
	if e.clearing {
		e.mu.Unlock()
		return ErrBusy
	}
	e.adding++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.adding--
		e.mu.Unlock()
	}()

	if err := e.api.AddToCart(ctx, productID, qty); err != nil {
		e.notifyFailure(ctx, "could not add to cart", err)
		return fmt.Errorf("add %s: %w", productID, err)
	}
	e.notify(ctx, notify.LevelSuccess, "added to cart")
	return e.Fetch(ctx)
}

// UpdateQty shows qty immediately and sends it. On success the snapshot is
// refetched before the line is released; on failure the edit is discarded
// and the line shows its last confirmed quantity, refreshed from the server
// first when the server rejected the edit. Setting the quantity the
// line already shows is a no-op.
func (e *Engine) UpdateQty(ctx context.Context, lineID string, qty int) error {
	e.mu.Lock()
	if e.clearing {
		e.mu.Unlock()
		return ErrBusy
	}
	l := e.find(lineID)
	if l == nil {
		e.mu.Unlock()
		return fmt.Errorf("line %s: %w", lineID, ErrUnknownLine)
	}
	if qty < 1 || qty > l.data.MaxQty() {
		limit := l.data.MaxQty()
		e.mu.Unlock()
		return fmt.Errorf("line %s qty %d (1..%d): %w", lineID, qty, limit, ErrInvalidQuantity)
	}
	if l.updating {
		e.mu.Unlock()
		return fmt.Errorf("line %s: %w", lineID, ErrLineBusy)
	}
	if qty == l.qty() {
		e.mu.Unlock()
		return nil
	}
	pending := qty
	l.pending = &pending
	l.updating = true
	productID := l.data.ProductID
	e.mu.Unlock()

	log := e.logger.With("line_id", lineID, "qty", qty)
	if err := e.api.UpdateCartLine(ctx, lineID, productID, qty); err != nil {
		var fetchErr error
		if coordinator.IsRejection(err) {
			// Stock or the line itself may have changed under us; show the
			// server's view before the line is released.
			_, fetchErr = e.fetch(ctx)
		}
		e.settle(lineID, func(l *line) { l.pending = nil })
		log.Warn("quantity update failed; rolled back", "error", err)
		e.notifyFailure(ctx, "could not update quantity", err)
		return errors.Join(fmt.Errorf("update line %s: %w", lineID, err), fetchErr)
	}

	applied, fetchErr := e.fetch(ctx)
	e.settle(lineID, func(l *line) {
		if !applied {
			// The server took the edit; our refresh just did not land.
			l.data.Qty = qty
		}
		l.pending = nil
	})
	log.Debug("quantity updated")
	e.notify(ctx, notify.LevelSuccess, "cart updated")
	if fetchErr != nil {
		return fmt.Errorf("refresh after update: %w", fetchErr)
	}
	return nil
}

// settle applies fn to the line, if it still exists, and releases it.
func (e *Engine) settle(lineID string, fn func(*line)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l := e.find(lineID); l != nil {
		if fn != nil {
			fn(l)
		}
		l.updating = false
	}
}

// RemoveLine deletes a line. The line is marked busy while the call runs
// and left untouched if it fails.
func (e *Engine) RemoveLine(ctx context.Context, lineID string) error {
	e.mu.Lock()
	if e.clearing {
		e.mu.Unlock()
		return ErrBusy
	}
	l := e.find(lineID)
	if l == nil {
		e.mu.Unlock()
		return fmt.Errorf("line %s: %w", lineID, ErrUnknownLine)
	}
	if l.updating {
		e.mu.Unlock()
		return fmt.Errorf("line %s: %w", lineID, ErrLineBusy)
	}
	l.updating = true
	e.mu.Unlock()

	if err := e.api.RemoveCartLine(ctx, lineID); err != nil {
		var fetchErr error
		if coordinator.IsRejection(err) {
			_, fetchErr = e.fetch(ctx)
		}
		e.settle(lineID, nil)
		e.logger.Warn("remove line failed", "line_id", lineID, "error", err)
		e.notifyFailure(ctx, "could not remove item", err)
		return errors.Join(fmt.Errorf("remove line %s: %w", lineID, err), fetchErr)
	}

	e.mu.Lock()
	for i, l := range e.lines {
		if l.data.ID == lineID {
			e.lines = append(e.lines[:i], e.lines[i+1:]...)
			break
		}
	}
	e.invalidateFetches()
	e.mu.Unlock()

	e.notify(ctx, notify.LevelSuccess, "item removed")
	if err := e.Fetch(ctx); err != nil {
		return fmt.Errorf("refresh after remove: %w", err)
	}
	return nil
}

// ClearAll empties the cart. It is a no-op when the cart is empty or a
// clear is already running, and refused while any line is being edited or
// an add is in flight.
// A failed clear is reconciled from the server rather than guessed locally.
func (e *Engine) ClearAll(ctx context.Context) error {
	e.mu.Lock()
	if e.clearing {
		e.mu.Unlock()
		return nil
	}
	if e.adding > 0 {
		e.mu.Unlock()
		return ErrBusy
	}
	if len(e.lines) == 0 {
		e.mu.Unlock()
		return nil
	}
	for _, l := range e.lines {
		if l.updating {
			e.mu.Unlock()
			return ErrBusy
		}
	}
	e.clearing = true
	e.mu.Unlock()

	err := e.api.ClearCart(ctx)
	if err == nil {
		e.mu.Lock()
		e.lines = nil
		e.total = decimal.Zero
		e.finalTotal = decimal.Zero
		e.invalidateFetches()
		e.clearing = false
		e.mu.Unlock()
		e.notify(ctx, notify.LevelSuccess, "cart cleared")
		return nil
	}

	e.logger.Warn("clear cart failed; reconciling", "error", err)
	e.notifyFailure(ctx, "could not clear cart", err)
	fetchErr := e.Fetch(ctx)
	e.mu.Lock()
	e.clearing = false
	e.mu.Unlock()
	return errors.Join(fmt.Errorf("clear cart: %w", err), fetchErr)
}

func (e *Engine) notify(ctx context.Context, level notify.Level, msg string) {
	if err := e.notifier.Notify(ctx, level, msg); err != nil {
		e.logger.Warn("notify failed", "error", err)
	}
}

func (e *Engine) notifyFailure(ctx context.Context, what string, err error) {
	// A 401 has already sent the user to login.
	if errors.Is(err, coordinator.ErrUnauthorized) {
		return
	}
	e.notify(ctx, notify.LevelError, what+": "+coordinator.MessageOf(err))
}
