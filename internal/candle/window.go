package candle

import (
	"fmt"

	"github.com/amirphl/strategy-engine/internal/market"
)

const (
	DefaultCapacity     = 2000
	defaultTickCapacity = 10000
)

// Window is a capacity-bounded, strictly date-ordered sequence of candles
// plus a bounded buffer of raw ticks. Only the last candle is ever mutated.
// Window is not safe for concurrent use; Aggregator guards it.
type Window struct {
	candles      []Candle
	ticks        []market.Tick
	capacity     int
	tickCapacity int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		candles:      make([]Candle, 0, capacity),
		capacity:     capacity,
		tickCapacity: defaultTickCapacity,
	}
}

func (w *Window) Len() int { return len(w.candles) }

// Last returns a pointer to the current candle, or nil if the window is empty.
func (w *Window) Last() *Candle {
	if len(w.candles) == 0 {
		return nil
	}
	return &w.candles[len(w.candles)-1]
}

// Append adds c after the current candle, evicting the oldest candle first
// when the window is full.
func (w *Window) Append(c Candle) error {
	if last := w.Last(); last != nil && !c.Date.After(last.Date) {
		return fmt.Errorf("%w: %s after %s", ErrNonMonotonic, c.Date, last.Date)
	}
	if len(w.candles) >= w.capacity {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:len(w.candles)-1]
	}
	w.candles = append(w.candles, c)
	return nil
}

func (w *Window) dropLast() {
	if len(w.candles) > 0 {
		w.candles = w.candles[:len(w.candles)-1]
	}
}

// Merge replaces the tail of the window with fetched candles. Local candles
// dated at or after the first fetched candle are dropped, then fetched
// candles are appended in date order. Merging the same batch twice yields
// the same window.
func (w *Window) Merge(fetched []Candle) int {
	if len(fetched) == 0 {
		return 0
	}
	sorted := append([]Candle(nil), fetched...)
	SortByDate(sorted)

	first := sorted[0].Date
	cut := len(w.candles)
	for cut > 0 && !w.candles[cut-1].Date.Before(first) {
		cut--
	}
	w.candles = w.candles[:cut]

	added := 0
	for _, c := range sorted {
		if err := w.Append(c); err == nil {
			added++
		}
	}
	return added
}

// Candles returns a copy of the window. Tick slices are shared with the
// window but their elements are never modified, only appended to.
func (w *Window) Candles() []Candle {
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	if n := len(out); n > 0 {
		out[n-1].Ticks = append([]market.Tick(nil), out[n-1].Ticks...)
	}
	return out
}

// AddTick records a raw tick, dropping the oldest one when the buffer is full.
func (w *Window) AddTick(t market.Tick) {
	if len(w.ticks) >= w.tickCapacity {
		w.ticks = w.ticks[1:]
	}
	w.ticks = append(w.ticks, t)
}

func (w *Window) Ticks() []market.Tick {
	return append([]market.Tick(nil), w.ticks...)
}
