package cart

import (
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// LineView is one row as the shopper sees it. Qty is the pending edit when
// there is one.
type LineView struct {
	domain.CartLine
	ConfirmedQty int
	Pending      bool
	Updating     bool
}

type View struct {
	Lines      []LineView
	Total      decimal.Decimal
	FinalTotal decimal.Decimal
	Loaded     bool
	Clearing   bool
}

// View returns a copy of the current cart state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := View{
		Lines:      make([]LineView, 0, len(e.lines)),
		Total:      e.total,
		FinalTotal: e.finalTotal,
		Loaded:     e.loaded,
		Clearing:   e.clearing,
	}
	for _, l := range e.lines {
		data := l.data
		data.Qty = l.qty()
		v.Lines = append(v.Lines, LineView{
			CartLine:     data,
			ConfirmedQty: l.data.Qty,
			Pending:      l.pending != nil,
			Updating:     l.updating,
		})
	}
	return v
}

// Snapshot is the visible cart in wire form.
func (e *Engine) Snapshot() domain.CartSnapshot {
	v := e.View()
	snap := domain.CartSnapshot{Total: v.Total, FinalTotal: v.FinalTotal}
	for _, l := range v.Lines {
		snap.Lines = append(snap.Lines, l.CartLine)
	}
	return snap
}

// Line returns the visible state of one line.
func (e *Engine) Line(id string) (LineView, bool) {
	for _, l := range e.View().Lines {
		if l.ID == id {
			return l, true
		}
	}
	return LineView{}, false
}

func (e *Engine) Empty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.lines) == 0
}
