package coordinator

import "sync"

// Indicator is the single shared busy signal the UI renders.
type Indicator interface {
	Show()
	Hide()
}

// IndicatorFuncs adapts two callbacks to an Indicator. Nil callbacks are skipped.
type IndicatorFuncs struct {
	OnShow func()
	OnHide func()
}

func (f IndicatorFuncs) Show() {
	if f.OnShow != nil {
		f.OnShow()
	}
}

func (f IndicatorFuncs) Hide() {
	if f.OnHide != nil {
		f.OnHide()
	}
}

// busy counts visible requests in flight. The indicator is shown on the
// 0→1 edge and hidden on the 1→0 edge; both callbacks run under the lock so
// the indicator always observes edges in counter order.
type busy struct {
	mu        sync.Mutex
	count     int
	indicator Indicator
	onChange  func(int)
}

func (b *busy) acquire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	if b.onChange != nil {
		b.onChange(b.count)
	}
	if b.count == 1 && b.indicator != nil {
		b.indicator.Show()
	}
}

func (b *busy) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return
	}
	b.count--
	if b.onChange != nil {
		b.onChange(b.count)
	}
	if b.count == 0 && b.indicator != nil {
		b.indicator.Hide()
	}
}

func (b *busy) load() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
