package units

import "sync"

type Trend int

const (
	TrendFlat Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) Arrow() string {
	switch t {
	case TrendUp:
		return "🔼"
	case TrendDown:
		return "🔽"
	default:
		return ""
	}
}

// PriceView is what the display shows for price after one observation.
type PriceView struct {
	Price    float64
	Known    bool // a good price has been seen at least once
	Outdated bool // Price is the last good price, the upstream is offline
	Trend    Trend
}

// PriceTracker remembers the last good price between polls.
type PriceTracker struct {
	mu   sync.Mutex
	last float64
	has  bool
}

// Seed restores a last good price, for example from the stored series.
func (t *PriceTracker) Seed(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.has {
		t.last, t.has = price, true
	}
}

// Observe records the price of s and returns the view to display. An offline
// price keeps the last good one and marks it outdated; the trend compares a
// good price with the previous good price.
func (t *PriceTracker) Observe(s Stats) PriceView {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !s.PriceOnline {
		return PriceView{Price: t.last, Known: t.has, Outdated: t.has}
	}
	v := PriceView{Price: s.Price, Known: true}
	if t.has {
		switch {
		case s.Price > t.last:
			v.Trend = TrendUp
		case s.Price < t.last:
			v.Trend = TrendDown
		}
	}
	t.last, t.has = s.Price, true
	return v
}

// Last returns the last good price.
func (t *PriceTracker) Last() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.has
}
