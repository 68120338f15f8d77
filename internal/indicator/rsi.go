package indicator

import (
	"fmt"
	"math"
	"sync"

	"github.com/amirphl/strategy-engine/internal/candle"
)

// CalculateRSI returns Wilder's RSI of prices. The first period values are NaN.
func CalculateRSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) <= period {
		return nil
	}
	rsi := make([]float64, len(prices))
	for i := 0; i < period; i++ {
		rsi[i] = math.NaN()
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	rsi[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// RSI is the Relative Strength Index over candle closes.
type RSI struct {
	Period int

	mu     sync.RWMutex
	values []float64
}

func NewRSI(period int) *RSI { return &RSI{Period: period} }

func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.Period) }

func (r *RSI) Update(candles []candle.Candle) error {
	values := CalculateRSI(candle.Closes(candles), r.Period)
	if values == nil {
		return fmt.Errorf("%w: RSI(%d) needs more than %d candles, got %d", ErrInsufficientData, r.Period, r.Period, len(candles))
	}
	r.mu.Lock()
	r.values = values
	r.mu.Unlock()
	return nil
}

// Last returns the most recent value and the one before it.
func (r *RSI) Last() (current, previous float64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.values)
	if n < 2 || math.IsNaN(r.values[n-2]) {
		return 0, 0, false
	}
	return r.values[n-1], r.values[n-2], true
}
