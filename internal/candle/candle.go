// Package candle
package candle

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/tfutils"
)

var (
	ErrNoHistory     = errors.New("no candle history")
	ErrNonMonotonic  = errors.New("candle date must be strictly increasing")
	ErrSymbolMissing = errors.New("candle symbol cannot be empty")
)

type Candle struct {
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	Date      time.Time     `json:"date"`
	Open      float64       `json:"open"`
	High      float64       `json:"high"`
	Low       float64       `json:"low"`
	Close     float64       `json:"close"`
	Volume    float64       `json:"volume"`
	AskVolume float64       `json:"ask_volume"`
	BidVolume float64       `json:"bid_volume"`
	Ticks     []market.Tick `json:"-"`
}

// IsPlaceholder reports whether the candle was synthesized for a session
// boundary and has not received a tick yet.
func (c *Candle) IsPlaceholder() bool {
	return c.Open == 0 && c.High == 0 && c.Low == 0 && c.Close == 0 && len(c.Ticks) == 0
}

// TrimPlaceholders drops trailing session placeholders so that consumers only
// see traded candles.
func TrimPlaceholders(candles []Candle) []Candle {
	for len(candles) > 0 && candles[len(candles)-1].IsPlaceholder() {
		candles = candles[:len(candles)-1]
	}
	return candles
}

// End returns the start of the following bucket.
func (c *Candle) End() time.Time {
	return tfutils.NextBucketStart(c.Date, c.Timeframe)
}

// Contains reports whether t falls inside the candle's bucket.
func (c *Candle) Contains(t time.Time) bool {
	return !t.Before(c.Date) && t.Before(c.End())
}

// apply merges a tick into the candle. A placeholder is seeded from the tick
// price instead of averaging into zero.
func (c *Candle) apply(t market.Tick) {
	p := t.Price()
	if c.IsPlaceholder() {
		c.Open, c.High, c.Low, c.Close = p, p, p, p
	} else {
		c.High = math.Max(c.High, p)
		c.Low = math.Min(c.Low, p)
		c.Close = p
	}
	c.AskVolume += t.AskVolume
	c.BidVolume += t.BidVolume
	c.Volume += t.AskVolume + t.BidVolume
	c.Ticks = append(c.Ticks, t)
}

func newCandle(symbol, timeframe string, date time.Time, t market.Tick) Candle {
	c := Candle{Symbol: symbol, Timeframe: timeframe, Date: date}
	c.apply(t)
	return c
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Date.IsZero() {
		return errors.New("candle date is zero")
	}
	if c.IsPlaceholder() {
		return nil
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.Symbol == "" {
		return ErrSymbolMissing
	}
	return nil
}

// SortByDate sorts candles in place, oldest first.
func SortByDate(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Date.Before(candles[j].Date)
	})
}

// Closes returns the close prices of the candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
