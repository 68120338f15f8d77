package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amirphl/strategy-engine/internal/position"
)

func closedPositions(profits ...float64) []position.Position {
	base := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	out := make([]position.Position, len(profits))
	for i, p := range profits {
		out[i] = position.Position{ID: string(rune('a' + i)), Profit: p, DateClose: base.Add(time.Duration(i) * time.Hour), Status: position.StatusClosed}
	}
	return out
}

func TestCalculateResults(t *testing.T) {
	tests := []struct {
		name         string
		profits      []float64
		profit       float64
		profitFactor float64
		winRate      float64
		drawdown     float64
	}{
		{"one win one loss", []float64{100, -50}, 50, 2, 50, 50},
		{"mixed", []float64{10, 20, -5, 15, -10}, 30, 3, 60, 10},
		{"wins only", []float64{10, 20}, 30, 0, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CalculateResults(closedPositions(tt.profits...))
			assert.InDelta(t, tt.profit, r.Profit, 1e-9)
			assert.InDelta(t, tt.profitFactor, r.ProfitFactor, 1e-9)
			assert.InDelta(t, tt.winRate, r.WinRate, 1e-9)
			assert.InDelta(t, tt.drawdown, r.Drawdown, 1e-9)
		})
	}

	t.Run("averages over non-empty subsets", func(t *testing.T) {
		r := CalculateResults(closedPositions(10, 20))
		assert.Equal(t, 15.0, r.AvgPositive)
		assert.Equal(t, 0.0, r.AvgNegative)
		assert.Equal(t, 0.0, r.RatioAvgPositiveNegative)

		r = CalculateResults(closedPositions(30, -10, -20))
		assert.Equal(t, -15.0, r.AvgNegative)
		assert.Equal(t, -2.0, r.RatioAvgPositiveNegative)
		assert.Equal(t, 2, r.MaxConsecutiveLosses)
		assert.Equal(t, 2, r.ConsecutiveLosses)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, Result{}, CalculateResults(nil))
	})
}

func TestTracker_OrdersByCloseDate(t *testing.T) {
	ps := closedPositions(100, -50)
	tr := NewTracker()
	tr.UpdateGlobalData(ps[1])
	r := tr.UpdateGlobalData(ps[0])

	assert.Equal(t, 50.0, r.Profit)
	assert.Equal(t, 50.0, r.Drawdown)
	assert.Equal(t, ps[0].ID, tr.Positions()[0].ID)
	assert.Equal(t, r, tr.CalculateResults())
	assert.Equal(t, r, tr.Result())
}
