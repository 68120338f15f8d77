package indicator

import (
	"fmt"
	"math"
	"sync"

	"github.com/amirphl/strategy-engine/internal/candle"
)

// StochasticResult holds the %K and %D lines. Values before the first
// complete window are NaN.
type StochasticResult struct {
	K []float64
	D []float64
}

// smooth returns the simple moving average of values over period, NaN until
// period non-NaN values are available.
func smooth(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = math.NaN()
		if i < period-1 {
			continue
		}
		sum := 0.0
		valid := true
		for _, v := range values[i-period+1 : i+1] {
			if math.IsNaN(v) {
				valid = false
				break
			}
			sum += v
		}
		if valid {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// CalculateStochastic computes k = sma(stoch(close, high, low, periodK), smoothK)
// and d = sma(k, periodD).
func CalculateStochastic(candles []candle.Candle, periodK, smoothK, periodD int) (*StochasticResult, error) {
	if periodK <= 0 || smoothK <= 0 || periodD <= 0 {
		return nil, fmt.Errorf("all periods must be positive integers")
	}
	if len(candles) < periodK {
		return nil, fmt.Errorf("%w: need at least %d candles for periodK, got %d", ErrInsufficientData, periodK, len(candles))
	}

	raw := make([]float64, len(candles))
	for i := range candles {
		if i < periodK-1 {
			raw[i] = math.NaN()
			continue
		}
		lowest, highest := candles[i].Low, candles[i].High
		for _, c := range candles[i-periodK+1 : i] {
			lowest = min(lowest, c.Low)
			highest = max(highest, c.High)
		}
		if highest == lowest {
			raw[i] = 50
		} else {
			raw[i] = 100 * (candles[i].Close - lowest) / (highest - lowest)
		}
	}

	k := smooth(raw, smoothK)
	return &StochasticResult{K: k, D: smooth(k, periodD)}, nil
}

// DefaultStochasticSettings returns %K length 14, %K smoothing 1 and %D smoothing 3.
func DefaultStochasticSettings() (periodK, smoothK, periodD int) {
	return 14, 1, 3
}

const (
	StochasticOverbought = 80.0
	StochasticOversold   = 20.0
)

// IsBullishCrossover detects when %K crosses above %D.
func IsBullishCrossover(prevK, prevD, currK, currD float64) bool {
	return prevK <= prevD && currK > currD
}

// IsBearishCrossover detects when %K crosses below %D.
func IsBearishCrossover(prevK, prevD, currK, currD float64) bool {
	return prevK >= prevD && currK < currD
}

// Stochastic is the stochastic oscillator, optionally over Heiken Ashi
// candles.
type Stochastic struct {
	PeriodK, SmoothK, PeriodD int
	HeikenAshi                bool

	mu     sync.RWMutex
	result *StochasticResult
	last   candle.Candle
}

func NewStochastic(periodK, smoothK, periodD int, heikenAshi bool) *Stochastic {
	return &Stochastic{PeriodK: periodK, SmoothK: smoothK, PeriodD: periodD, HeikenAshi: heikenAshi}
}

func (s *Stochastic) Name() string {
	if s.HeikenAshi {
		return fmt.Sprintf("Stochastic-HA(%d,%d,%d)", s.PeriodK, s.SmoothK, s.PeriodD)
	}
	return fmt.Sprintf("Stochastic(%d,%d,%d)", s.PeriodK, s.SmoothK, s.PeriodD)
}

func (s *Stochastic) Update(candles []candle.Candle) error {
	if s.HeikenAshi {
		candles = candle.HeikenAshi(candles)
	}
	res, err := CalculateStochastic(candles, s.PeriodK, s.SmoothK, s.PeriodD)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.result = res
	s.last = candles[len(candles)-1]
	s.mu.Unlock()
	return nil
}

// Last returns the two most recent %K and %D values.
func (s *Stochastic) Last() (k, d, prevK, prevD float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return 0, 0, 0, 0, false
	}
	n := len(s.result.D)
	if n < 2 || math.IsNaN(s.result.D[n-2]) {
		return 0, 0, 0, 0, false
	}
	return s.result.K[n-1], s.result.D[n-1], s.result.K[n-2], s.result.D[n-2], true
}

// LastCandle is the last candle the oscillator was computed on, Heiken Ashi
// when enabled.
func (s *Stochastic) LastCandle() candle.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
