package indicator

import (
	"fmt"
	"sync"

	"github.com/amirphl/strategy-engine/internal/candle"
)

// CalculateSMA returns the simple moving average of the last period values.
func CalculateSMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, ErrInsufficientData
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// SMA is a simple moving average over candle closes.
type SMA struct {
	Period int

	mu      sync.RWMutex
	value   float64
	prev    float64
	hasPrev bool
}

func NewSMA(period int) *SMA { return &SMA{Period: period} }

func (s *SMA) Name() string { return fmt.Sprintf("SMA(%d)", s.Period) }

func (s *SMA) Update(candles []candle.Candle) error {
	closes := candle.Closes(candles)
	v, err := CalculateSMA(closes, s.Period)
	if err != nil {
		return fmt.Errorf("%w: SMA(%d) needs %d candles, got %d", err, s.Period, s.Period, len(candles))
	}
	prev, perr := CalculateSMA(closes[:len(closes)-1], s.Period)

	s.mu.Lock()
	s.value = v
	s.prev, s.hasPrev = prev, perr == nil
	s.mu.Unlock()
	return nil
}

func (s *SMA) Value() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Last returns the most recent value and the one before it.
func (s *SMA) Last() (current, previous float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.prev, s.hasPrev
}
