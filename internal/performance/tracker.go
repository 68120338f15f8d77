// Package performance keeps running statistics over closed positions.
package performance

import (
	"math"
	"sort"
	"sync"

	"github.com/amirphl/strategy-engine/internal/position"
)

// Result is the aggregate over all closed positions. Averages and ratios are
// zero when the subset they are computed over is empty.
type Result struct {
	Profit                   float64 `json:"profit"`
	SumPositive              float64 `json:"sum_positive"`
	SumNegative              float64 `json:"sum_negative"`
	AvgPositive              float64 `json:"avg_positive"`
	AvgNegative              float64 `json:"avg_negative"`
	RatioAvgPositiveNegative float64 `json:"ratio_avg_positive_negative"`
	ProfitFactor             float64 `json:"profit_factor"`
	WinRate                  float64 `json:"win_rate"`
	Drawdown                 float64 `json:"drawdown"`
	TotalPositions           int     `json:"total_positions"`
	PositiveCount            int     `json:"positive_count"`
	NegativeCount            int     `json:"negative_count"`
	ConsecutiveWins          int     `json:"consecutive_wins"`
	ConsecutiveLosses        int     `json:"consecutive_losses"`
	MaxConsecutiveWins       int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses     int     `json:"max_consecutive_losses"`
}

type Tracker struct {
	mu        sync.RWMutex
	positions []position.Position
	result    Result
}

func NewTracker() *Tracker { return &Tracker{} }

// UpdateGlobalData appends closed positions and recomputes the result.
func (t *Tracker) UpdateGlobalData(positions ...position.Position) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = append(t.positions, positions...)
	sort.SliceStable(t.positions, func(i, j int) bool {
		return t.positions[i].DateClose.Before(t.positions[j].DateClose)
	})
	t.result = CalculateResults(t.positions)
	return t.result
}

func (t *Tracker) Result() Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Positions returns the closed positions ordered by close date.
func (t *Tracker) Positions() []position.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]position.Position(nil), t.positions...)
}

func (t *Tracker) CalculateResults() Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return CalculateResults(t.positions)
}

// CalculateResults aggregates positions, which must be ordered by close date.
// Drawdown is the running peak of cumulative profit minus the current
// cumulative profit.
func CalculateResults(positions []position.Position) Result {
	var r Result
	r.TotalPositions = len(positions)
	if r.TotalPositions == 0 {
		return r
	}

	var peak float64
	for _, p := range positions {
		r.Profit += p.Profit
		switch {
		case p.Profit > 0:
			r.SumPositive += p.Profit
			r.PositiveCount++
			r.ConsecutiveWins++
			r.ConsecutiveLosses = 0
		case p.Profit < 0:
			r.SumNegative += p.Profit
			r.NegativeCount++
			r.ConsecutiveLosses++
			r.ConsecutiveWins = 0
		}
		r.MaxConsecutiveWins = max(r.MaxConsecutiveWins, r.ConsecutiveWins)
		r.MaxConsecutiveLosses = max(r.MaxConsecutiveLosses, r.ConsecutiveLosses)
		peak = math.Max(peak, r.Profit)
	}
	r.Drawdown = peak - r.Profit

	if r.PositiveCount > 0 {
		r.AvgPositive = r.SumPositive / float64(r.PositiveCount)
	}
	if r.NegativeCount > 0 {
		r.AvgNegative = r.SumNegative / float64(r.NegativeCount)
	}
	if r.AvgNegative != 0 {
		r.RatioAvgPositiveNegative = r.AvgPositive / r.AvgNegative
	}
	if r.SumNegative != 0 {
		r.ProfitFactor = math.Abs(r.SumPositive / r.SumNegative)
	}
	r.WinRate = float64(r.PositiveCount) / float64(r.TotalPositions) * 100
	return r
}
