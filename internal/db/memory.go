package db

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/strategy-engine/internal/journal"
	"github.com/amirphl/strategy-engine/internal/position"
)

// MemoryStorage keeps everything in process memory. Used by backtests and
// tests.
type MemoryStorage struct {
	mu sync.RWMutex

	// Candles keyed by symbol|timeframe|timestamp
	candles map[string]Candle

	positions map[string]position.Position
	order     []string

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		candles:   make(map[string]Candle),
		positions: make(map[string]position.Position),
		events:    make([]journal.Event, 0, 1024),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func candleKey(symbol, timeframe string, ts time.Time) string {
	return strings.ToUpper(symbol) + "|" + timeframe + "|" + ts.UTC().Format(time.RFC3339Nano)
}

func (m *MemoryStorage) SaveCandles(ctx context.Context, candles []Candle) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s at %s: %w",
				i, c.Symbol, c.Timeframe, c.Timestamp, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		c.Symbol = strings.ToUpper(c.Symbol)
		c.Timestamp = c.Timestamp.UTC()
		m.candles[candleKey(c.Symbol, c.Timeframe, c.Timestamp)] = c
	}
	return nil
}

func (m *MemoryStorage) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error) {
	symbol = strings.ToUpper(symbol)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Candle
	for _, c := range m.candles {
		if c.Symbol != symbol || c.Timeframe != timeframe {
			continue
		}
		if c.Timestamp.Before(start) || c.Timestamp.After(end) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStorage) SavePosition(ctx context.Context, pos position.Position) error {
	if pos.ID == "" {
		return fmt.Errorf("failed to save position: missing id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.ID]; !ok {
		m.order = append(m.order, pos.ID)
	}
	m.positions[pos.ID] = pos
	return nil
}

func (m *MemoryStorage) GetPositions(ctx context.Context, strategyID string) ([]position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []position.Position
	for _, id := range m.order {
		if p := m.positions[id]; p.StrategyID == strategyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	event.Time = event.Time.UTC()
	if event.Data != nil {
		event.Data = maps.Clone(event.Data)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type != eventType || e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
