package risk

import (
	"fmt"

	"github.com/amirphl/strategy-engine/internal/performance"
	"github.com/amirphl/strategy-engine/internal/position"
)

type Thresholds struct {
	Enabled bool `yaml:"enabled"`
	// LossStreak disables trading after this many consecutive losing positions.
	LossStreak int `yaml:"loss_streak"`
	// MaxDrawdownPercent is the tolerated drawdown as a percentage of balance.
	MaxDrawdownPercent float64 `yaml:"max_drawdown_percent"`
	// MinTradesProfitFactor is the number of trades after which a profit
	// factor of 1 or less disables trading.
	MinTradesProfitFactor int `yaml:"min_trades_profit_factor"`
}

type ThresholdKind string

const (
	ThresholdLossStreak   ThresholdKind = "loss_streak"
	ThresholdDrawdown     ThresholdKind = "drawdown"
	ThresholdProfitFactor ThresholdKind = "profit_factor"
)

// ThresholdError reports a kill-switch breach.
type ThresholdError struct {
	Kind    ThresholdKind
	Message string
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("risk threshold %s reached: %s", e.Kind, e.Message)
}

// MoneyManagement combines position sizing with the kill switch.
type MoneyManagement struct {
	calc        *LotValueCalculator
	riskPercent float64
	thresholds  Thresholds
}

func NewMoneyManagement(calc *LotValueCalculator, riskPercent float64, thresholds Thresholds) *MoneyManagement {
	return &MoneyManagement{calc: calc, riskPercent: riskPercent, thresholds: thresholds}
}

func (m *MoneyManagement) Calculator() *LotValueCalculator { return m.calc }

func (m *MoneyManagement) CalculatePositionSize(entry, stopLoss float64) (float64, error) {
	return m.calc.CalculatePositionSize(entry, stopLoss, m.riskPercent)
}

// CheckThresholds evaluates the kill switch after a position closed. closed
// must be ordered by close date. It returns a *ThresholdError on breach.
func (m *MoneyManagement) CheckThresholds(res performance.Result, closed []position.Position) error {
	t := m.thresholds
	if !t.Enabled {
		return nil
	}

	if n := t.LossStreak; n > 0 && len(closed) >= n {
		streak := true
		for _, p := range closed[len(closed)-n:] {
			if p.Profit >= 0 {
				streak = false
				break
			}
		}
		if streak {
			return &ThresholdError{Kind: ThresholdLossStreak, Message: fmt.Sprintf("last %d positions lost", n)}
		}
	}

	if t.MaxDrawdownPercent > 0 {
		balance := m.calc.Balance().Balance
		limit := t.MaxDrawdownPercent / 100 * balance
		if balance > 0 && res.Drawdown > limit {
			return &ThresholdError{Kind: ThresholdDrawdown, Message: fmt.Sprintf("drawdown %.2f exceeds %.2f (%.1f%% of balance)", res.Drawdown, limit, t.MaxDrawdownPercent)}
		}
	}

	if n := t.MinTradesProfitFactor; n > 0 && res.TotalPositions >= n && res.SumNegative != 0 && res.ProfitFactor <= 1 {
		return &ThresholdError{Kind: ThresholdProfitFactor, Message: fmt.Sprintf("profit factor %.2f after %d positions", res.ProfitFactor, res.TotalPositions)}
	}
	return nil
}
