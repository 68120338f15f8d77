// Package candle adapter
package candle

import (
	"github.com/amirphl/strategy-engine/internal/db"
)

func DBCandleToCandle(dbCandle db.Candle) Candle {
	return Candle{
		Symbol:    dbCandle.Symbol,
		Timeframe: dbCandle.Timeframe,
		Date:      dbCandle.Timestamp,
		Open:      dbCandle.Open,
		High:      dbCandle.High,
		Low:       dbCandle.Low,
		Close:     dbCandle.Close,
		Volume:    dbCandle.Volume,
	}
}

func DBCandlesToCandles(dbCandles []db.Candle) []Candle {
	candles := make([]Candle, len(dbCandles))
	for i, dbCandle := range dbCandles {
		candles[i] = DBCandleToCandle(dbCandle)
	}
	return candles
}

// CandlesToDBCandles converts closed candles for storage. Placeholders are
// skipped.
func CandlesToDBCandles(candles []Candle) []db.Candle {
	out := make([]db.Candle, 0, len(candles))
	for _, c := range candles {
		if c.IsPlaceholder() {
			continue
		}
		out = append(out, db.Candle{
			Symbol:    c.Symbol,
			Timeframe: c.Timeframe,
			Timestamp: c.Date,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return out
}
