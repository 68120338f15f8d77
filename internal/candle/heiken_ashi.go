package candle

// HeikenAshi transforms date-ordered candles into Heiken Ashi candles.
func HeikenAshi(raw []Candle) []Candle {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Candle, len(raw))
	var prev *Candle
	for i, c := range raw {
		out[i] = NextHeikenAshi(prev, c)
		prev = &out[i]
	}
	return out
}

// NextHeikenAshi derives the Heiken Ashi candle of raw from the previous
// Heiken Ashi candle, which is nil for the first one.
func NextHeikenAshi(prev *Candle, raw Candle) Candle {
	ha := raw
	ha.Ticks = nil
	ha.Close = (raw.Open + raw.High + raw.Low + raw.Close) / 4
	if prev == nil {
		ha.Open = (raw.Open + raw.Close) / 2
	} else {
		ha.Open = (prev.Open + prev.Close) / 2
	}
	ha.High = max(raw.High, ha.Open, ha.Close)
	ha.Low = min(raw.Low, ha.Open, ha.Close)
	return ha
}

func (c *Candle) IsBullish() bool { return c.Close > c.Open }

func (c *Candle) IsBearish() bool { return c.Close < c.Open }
