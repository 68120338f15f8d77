package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/position"
)

// walk builds candles opening at the previous close with a small wick.
func walk(closes []float64) []candle.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]candle.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		out[i] = candle.Candle{
			Symbol: "TEST", Timeframe: "1h", Date: start.Add(time.Duration(i) * time.Hour),
			Open: prev, High: max(prev, c) + 0.2, Low: min(prev, c) - 0.2, Close: c,
		}
		prev = c
	}
	return out
}

func runStochastic(t *testing.T, closes []float64) (*StochasticHeikinAshi, *mockRuntime, int) {
	t.Helper()
	s := NewStochasticHeikinAshi(3, 1, 2)
	rt := &mockRuntime{info: market.SymbolInfo{Symbol: "TEST"}}
	require.NoError(t, s.Init(rt))
	require.Len(t, rt.indicators, 1)

	rt.On("OpenPosition", position.Buy, 0.0, 0.0).Return(position.Position{}, nil).Maybe()

	signalAt := 0
	candles := walk(closes)
	for n := 3; n <= len(candles); n++ {
		require.NoError(t, rt.indicators[0].Update(candles[:n]))
		before := len(rt.Calls)
		require.NoError(t, s.Run(context.Background()))
		if signalAt == 0 && len(rt.Calls) > before {
			signalAt = n
		}
	}
	return s, rt, signalAt
}

func TestStochasticHeikinAshi_BuysOnOversoldCrossover(t *testing.T) {
	s, rt, at := runStochastic(t, []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 97, 99, 101})
	rt.AssertNumberOfCalls(t, "OpenPosition", 1)
	assert.Equal(t, 10, at)

	assert.True(t, s.ShouldClosePosition(position.Position{Direction: position.Buy}), "%K above overbought")
	assert.False(t, s.ShouldClosePosition(position.Position{Direction: position.Sell}))
}

func TestStochasticHeikinAshi_BearishCandleBlocksEntry(t *testing.T) {
	_, rt, _ := runStochastic(t, []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 93, 95, 97})
	rt.AssertNotCalled(t, "OpenPosition", mock.Anything, mock.Anything, mock.Anything)
}

func TestStochasticHeikinAshi_Registry(t *testing.T) {
	s, err := Load("stochastic_ha", Params{"period_k": 24, "smooth_k": 10})
	require.NoError(t, err)
	assert.Equal(t, "Stochastic Heikin Ashi", s.Name())

	_, err = Load("stochastic_ha", Params{"overbought": 10})
	assert.Error(t, err)
}
