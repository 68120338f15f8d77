package candle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/tfutils"
	"github.com/amirphl/strategy-engine/internal/utils"
)

// HistoryProvider supplies the candle history and trading sessions an
// Aggregator is built from.
type HistoryProvider interface {
	GetHistory(ctx context.Context, symbol, timeframe string) ([]Candle, error)
	GetHistoryRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error)
	GetTradingHours(ctx context.Context, symbol string) (market.TradeHours, error)
}

// Handlers receive aggregator notifications. They are invoked outside the
// window lock, so they may read Snapshot.
type Handlers struct {
	OnTick         func(market.Tick)
	OnCandleClosed func(Candle)
}

type Option func(*Aggregator)

func WithCapacity(n int) Option {
	return func(a *Aggregator) { a.window = NewWindow(n) }
}

// WithClock replaces time.Now, e.g. with the replay clock of a backtest.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithoutSessionTimer disables the background session timer. Sessions are
// then only checked when CheckSession is called.
func WithoutSessionTimer() Option {
	return func(a *Aggregator) { a.timerEnabled = false }
}

// Aggregator builds candles of one symbol and timeframe from a tick stream.
type Aggregator struct {
	mu sync.RWMutex

	ctx       context.Context
	provider  HistoryProvider
	symbol    string
	timeframe string
	hours     market.TradeHours
	window    *Window
	handlers  Handlers

	now          func() time.Time
	timer        *time.Timer
	timerEnabled bool
	closed       bool
}

// NewAggregator loads the initial history and trading hours of symbol. Both
// are required; failing to fetch either fails construction.
func NewAggregator(ctx context.Context, provider HistoryProvider, symbol, timeframe string, opts ...Option) (*Aggregator, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("aggregator %s: %w: %q", symbol, tfutils.ErrUnsupportedTimeframe, timeframe)
	}
	a := &Aggregator{
		ctx:          ctx,
		provider:     provider,
		symbol:       symbol,
		timeframe:    timeframe,
		window:       NewWindow(DefaultCapacity),
		now:          func() time.Time { return time.Now().UTC() },
		timerEnabled: true,
	}
	for _, opt := range opts {
		opt(a)
	}

	history, err := provider.GetHistory(ctx, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s %s: %w", symbol, timeframe, err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, timeframe, ErrNoHistory)
	}
	hours, err := provider.GetTradingHours(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trading hours for %s: %w", symbol, err)
	}
	a.hours = hours

	for i := range history {
		history[i].Symbol = symbol
		history[i].Timeframe = timeframe
	}
	a.window.Merge(history)

	now := a.now()
	a.checkSessionLocked(now)
	a.armTimerLocked(now)

	utils.GetLogger().Infof("Aggregator | [%s %s] Loaded %d candles", symbol, timeframe, a.window.Len())
	return a, nil
}

func (a *Aggregator) Symbol() string    { return a.symbol }
func (a *Aggregator) Timeframe() string { return a.timeframe }

// SetHandlers registers the notification handlers, replacing previous ones.
func (a *Aggregator) SetHandlers(h Handlers) {
	a.mu.Lock()
	a.handlers = h
	a.mu.Unlock()
}

// Snapshot returns an immutable copy of the candle window.
func (a *Aggregator) Snapshot() []Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.window.Candles()
}

// Last returns a copy of the current candle.
func (a *Aggregator) Last() (Candle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	last := a.window.Last()
	if last == nil {
		return Candle{}, false
	}
	c := *last
	c.Ticks = append([]market.Tick(nil), last.Ticks...)
	return c, true
}

// ApplyTick folds a tick into the window. Ticks of other symbols and ticks
// older than the current candle are ignored.
func (a *Aggregator) ApplyTick(t market.Tick) {
	if t.Symbol != a.symbol {
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	closed, merged := a.applyLocked(t)
	h := a.handlers
	a.mu.Unlock()

	if closed != nil && h.OnCandleClosed != nil {
		h.OnCandleClosed(*closed)
	} else if merged && h.OnTick != nil {
		h.OnTick(t)
	}
}

// applyLocked returns the candle closed by t, if any, and whether t was
// merged into an existing candle.
func (a *Aggregator) applyLocked(t market.Tick) (*Candle, bool) {
	a.window.AddTick(t)

	last := a.window.Last()
	if last == nil {
		_ = a.window.Append(newCandle(a.symbol, a.timeframe, tfutils.BucketStart(t.Date, a.timeframe), t))
		return nil, false
	}
	if t.Date.Before(last.Date) {
		utils.GetLogger().Debugf("Aggregator | [%s %s] Ignoring stale tick at %s", a.symbol, a.timeframe, t.Date)
		return nil, false
	}

	next := last.End()
	if t.Date.Before(next) {
		last.apply(t)
		return nil, true
	}

	if t.Date.Before(tfutils.NextBucketStart(next, a.timeframe)) {
		return a.rollLocked(next, t), false
	}

	a.correctHistoryLocked()

	last = a.window.Last()
	if last.Contains(t.Date) {
		last.apply(t)
		if n := a.window.Len(); n > 1 {
			prev := a.window.candles[n-2]
			if !prev.IsPlaceholder() {
				return &prev, false
			}
		}
		return nil, false
	}
	start := tfutils.BucketStart(t.Date, a.timeframe)
	if !start.After(last.Date) {
		start = last.End()
	}
	return a.rollLocked(start, t), false
}

// rollLocked closes the current candle and opens a new one at start seeded
// from t. A placeholder that never traded is replaced instead of closed.
func (a *Aggregator) rollLocked(start time.Time, t market.Tick) *Candle {
	last := a.window.Last()
	var closed *Candle
	if last.IsPlaceholder() {
		a.window.dropLast()
	} else {
		c := *last
		closed = &c
	}
	if err := a.window.Append(newCandle(a.symbol, a.timeframe, start, t)); err != nil {
		utils.GetLogger().Errorf("Aggregator | [%s %s] Failed to open candle: %v", a.symbol, a.timeframe, err)
	}
	return closed
}

// correctHistoryLocked refetches [lastDate, now] and merges it into the
// window tail. Failures leave the window unchanged; the next gap retries.
func (a *Aggregator) correctHistoryLocked() {
	last := a.window.Last()
	start, end := last.Date, a.now()

	fetched, err := a.provider.GetHistoryRange(a.ctx, a.symbol, a.timeframe, start, end)
	if err != nil {
		utils.GetLogger().Errorf("Aggregator | [%s %s] History correction failed: %v", a.symbol, a.timeframe, err)
		return
	}
	for i := range fetched {
		fetched[i].Symbol = a.symbol
		fetched[i].Timeframe = a.timeframe
	}
	added := a.window.Merge(fetched)
	utils.GetLogger().Infof("Aggregator | [%s %s] History corrected from %s: %d candles", a.symbol, a.timeframe, start.Format(time.RFC3339), added)
}

// CheckSession inserts a placeholder candle when the next bucket boundary
// falls outside trading hours. The session timer calls it at every session
// end; backtests and tests may call it directly.
func (a *Aggregator) CheckSession() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	closed := a.checkSessionLocked(a.now())
	h := a.handlers
	a.mu.Unlock()

	if closed != nil && h.OnCandleClosed != nil {
		h.OnCandleClosed(*closed)
	}
}

func (a *Aggregator) checkSessionLocked(now time.Time) *Candle {
	if a.hours.AlwaysOpen() {
		return nil
	}
	last := a.window.Last()
	boundary := tfutils.BucketStart(now, a.timeframe)
	if last != nil {
		boundary = last.End()
	}
	if a.hours.IsOpen(boundary) {
		return nil
	}
	open, ok := a.hours.NextOpen(boundary)
	if !ok {
		return nil
	}
	if last != nil && last.IsPlaceholder() {
		return nil
	}

	var closed *Candle
	if last != nil {
		c := *last
		closed = &c
	}
	if err := a.window.Append(Candle{Symbol: a.symbol, Timeframe: a.timeframe, Date: open}); err != nil {
		utils.GetLogger().Errorf("Aggregator | [%s %s] Failed to insert session candle: %v", a.symbol, a.timeframe, err)
		return nil
	}
	utils.GetLogger().Infof("Aggregator | [%s %s] Market closed, next session candle at %s", a.symbol, a.timeframe, open.Format(time.RFC3339))
	return closed
}

func (a *Aggregator) armTimerLocked(now time.Time) {
	if !a.timerEnabled || a.closed {
		return
	}
	end, ok := a.hours.NextClose(now)
	if !ok {
		return
	}
	a.timer = time.AfterFunc(end.Sub(now), a.onSessionTimer)
}

func (a *Aggregator) onSessionTimer() {
	a.CheckSession()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.armTimerLocked(a.now())
}

// Close stops the session timer. Ticks applied afterwards are ignored.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
	}
}
