// Package risk sizes positions by account risk and watches kill-switch thresholds.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/amirphl/strategy-engine/internal/market"
)

var (
	ErrBelowMinLot     = errors.New("position size below symbol minimum lot")
	ErrNoStopDistance  = errors.New("entry and stop loss are equal")
	ErrNoEquity        = errors.New("account equity must be positive")
	ErrPipValueMissing = errors.New("pip value unavailable, conversion rate missing")
)

type LotValueConfig struct {
	Info            market.SymbolInfo
	AccountCurrency string
	// CrossSymbol converts the quote currency into the account currency.
	// CrossInverted means its price is account/quote rather than quote/account.
	CrossSymbol   string
	CrossInverted bool
}

// LotValueCalculator keeps the pip value and margin per lot of a symbol up to
// date with prices and balance.
type LotValueCalculator struct {
	mu sync.RWMutex

	cfg       LotValueConfig
	mainTick  market.Tick
	crossTick market.Tick
	balance   market.AccountBalance

	pipValueStandard float64
	marginPerLot     float64
}

func NewLotValueCalculator(cfg LotValueConfig, balance market.AccountBalance, mainTick market.Tick) *LotValueCalculator {
	if cfg.CrossSymbol == "" && cfg.needsCross() {
		cfg.CrossSymbol = cfg.AccountCurrency + cfg.Info.CurrencyProfit
		cfg.CrossInverted = true
	}
	c := &LotValueCalculator{cfg: cfg, balance: balance, mainTick: mainTick}
	c.recompute()
	return c
}

func (cfg LotValueConfig) needsCross() bool {
	quote := cfg.Info.CurrencyProfit
	return quote != "" && cfg.AccountCurrency != "" && quote != cfg.AccountCurrency && cfg.Info.Currency != cfg.AccountCurrency
}

// CrossSymbol returns the symbol whose ticks must be fed to UpdateCrossTick,
// or "" when no conversion is needed.
func (c *LotValueCalculator) CrossSymbol() string {
	if !c.cfg.needsCross() {
		return ""
	}
	return c.cfg.CrossSymbol
}

func (c *LotValueCalculator) UpdateMainTick(t market.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mainTick = t
	c.recompute()
}

func (c *LotValueCalculator) UpdateCrossTick(t market.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crossTick = t
	c.recompute()
}

func (c *LotValueCalculator) UpdateBalance(b market.AccountBalance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = b
	c.recompute()
}

func (c *LotValueCalculator) Balance() market.AccountBalance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance
}

func (c *LotValueCalculator) PipValueStandard() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pipValueStandard
}

func (c *LotValueCalculator) MarginPerLot() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marginPerLot
}

// rate converts one unit of quote currency into account currency. It is 0
// when the conversion price is not known yet.
func (c *LotValueCalculator) rate() float64 {
	info := c.cfg.Info
	switch {
	case info.CurrencyProfit == "" || c.cfg.AccountCurrency == "" || info.CurrencyProfit == c.cfg.AccountCurrency:
		return 1
	case info.Currency == c.cfg.AccountCurrency:
		if c.mainTick.Bid <= 0 {
			return 0
		}
		return 1 / c.mainTick.Bid
	case c.crossTick.Bid <= 0:
		return 0
	case c.cfg.CrossInverted:
		return 1 / c.crossTick.Bid
	default:
		return c.crossTick.Bid
	}
}

func (c *LotValueCalculator) recompute() {
	info := c.cfg.Info
	rate := c.rate()
	c.pipValueStandard = info.ContractSize * info.TickSize * rate

	leverage := info.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	c.marginPerLot = info.ContractSize * c.mainTick.Bid * rate / leverage
}

// CalculatePositionSize returns the volume risking riskPercent of equity
// between entry and stopLoss, rounded to 2 decimals.
func (c *LotValueCalculator) CalculatePositionSize(entry, stopLoss, riskPercent float64) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := c.cfg.Info
	equity := c.balance.Equity
	if equity <= 0 {
		return 0, ErrNoEquity
	}
	distance := math.Abs(entry - stopLoss)
	if distance == 0 {
		return 0, ErrNoStopDistance
	}
	riskMoney := riskPercent / 100 * equity

	var riskValue float64
	switch info.Category {
	case market.CategoryForex:
		if c.pipValueStandard == 0 || info.TickSize <= 0 {
			return 0, ErrPipValueMissing
		}
		pipDistance := distance / info.TickSize
		riskValue = pipDistance * c.pipValueStandard
	default:
		rate := c.rate()
		if rate == 0 || info.ContractSize <= 0 {
			return 0, ErrPipValueMissing
		}
		riskValue = distance * info.ContractSize * rate
	}

	size := riskMoney / riskValue
	if c.marginPerLot > 0 {
		size = math.Min(size, equity/c.marginPerLot)
	}
	if info.LotMax > 0 {
		size = math.Min(size, info.LotMax)
	}
	size = decimal.NewFromFloat(size).Round(2).InexactFloat64()
	if size < info.LotMin || size <= 0 {
		return 0, fmt.Errorf("%w: %.2f < %.2f", ErrBelowMinLot, size, info.LotMin)
	}
	return size, nil
}
