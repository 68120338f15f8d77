package candle

import (
	"math"

	"github.com/amirphl/strategy-engine/internal/tfutils"
)

// Resample downsamples date-ordered candles into a coarser timeframe.
// Buckets are aligned by tfutils.BucketStart; placeholders are skipped. The
// last bucket may be partial.
func Resample(candles []Candle, timeframe string) []Candle {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil
	}
	out := make([]Candle, 0, len(candles)/2+1)
	for _, c := range candles {
		if c.IsPlaceholder() {
			continue
		}
		start := tfutils.BucketStart(c.Date, timeframe)
		if n := len(out); n > 0 && out[n-1].Date.Equal(start) {
			b := &out[n-1]
			b.High = math.Max(b.High, c.High)
			b.Low = math.Min(b.Low, c.Low)
			b.Close = c.Close
			b.Volume += c.Volume
			b.AskVolume += c.AskVolume
			b.BidVolume += c.BidVolume
			continue
		}
		out = append(out, Candle{
			Symbol:    c.Symbol,
			Timeframe: timeframe,
			Date:      start,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			AskVolume: c.AskVolume,
			BidVolume: c.BidVolume,
		})
	}
	return out
}
