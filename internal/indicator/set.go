package indicator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/amirphl/strategy-engine/internal/candle"
)

type entry struct {
	ind       Indicator
	secondary bool
}

// Set is the list of indicators a strategy registered, each tagged with the
// timeframe it is computed on.
type Set struct {
	mu      sync.RWMutex
	entries []entry
}

func NewSet() *Set { return &Set{} }

// Register adds ind to the set. Secondary indicators are computed on the
// secondary timeframe view.
func (s *Set) Register(ind Indicator, secondary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{ind: ind, secondary: secondary})
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// HasSecondary reports whether any registered indicator uses the secondary timeframe.
func (s *Set) HasSecondary() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.secondary {
			return true
		}
	}
	return false
}

// Refresh updates every indicator in its own goroutine and waits for all of
// them. The first failure is returned; indicator state is then unreliable.
func (s *Set) Refresh(ctx context.Context, primary, secondary []candle.Candle) error {
	s.mu.RLock()
	entries := append([]entry(nil), s.entries...)
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("indicator %s panicked: %v", e.ind.Name(), r)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}
			candles := primary
			if e.secondary {
				candles = secondary
			}
			if err := e.ind.Update(candles); err != nil {
				return fmt.Errorf("indicator %s: %w", e.ind.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
