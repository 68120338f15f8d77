package strategy

import (
	"context"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/indicator"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/performance"
	"github.com/amirphl/strategy-engine/internal/position"
)

// Flags select when the orchestrator evaluates a strategy. A false flag means
// the corresponding step runs on candle close instead of on every tick.
type Flags struct {
	RunOnTick    bool `yaml:"run_on_tick" json:"run_on_tick"`
	UpdateOnTick bool `yaml:"update_on_tick" json:"update_on_tick"`
	CloseOnTick  bool `yaml:"close_on_tick" json:"close_on_tick"`
}

// Runtime is what a running strategy can see and do. The orchestrator
// implements it.
type Runtime interface {
	// RegisterIndicator adds ind to the refresh set. Secondary indicators are
	// computed on the secondary timeframe.
	RegisterIndicator(ind indicator.Indicator, secondary bool)
	Candles() []candle.Candle
	SecondaryCandles() []candle.Candle
	LastTick() market.Tick
	SymbolInfo() market.SymbolInfo
	Result() performance.Result
	// OpenPosition sizes a position with the risk engine and requests it.
	// Zero sl or tp selects the configured default distance.
	OpenPosition(ctx context.Context, dir position.Direction, sl, tp float64) (position.Position, error)
}

// Strategy is the interface for all trading strategies.
type Strategy interface {
	Name() string
	// Init is called once before any market data is delivered.
	Init(rt Runtime) error
	Flags() Flags
	// Run makes the entry decision. It is only called while no position is
	// pending or open.
	Run(ctx context.Context) error
	// ShouldUpdatePosition may move the stops of p in place; returning true
	// forwards the change.
	ShouldUpdatePosition(p *position.Position) bool
	ShouldClosePosition(p position.Position) bool
}

// Base provides no-op position handling and stores the runtime. Strategies
// embed it and override what they need.
type Base struct {
	rt    Runtime
	flags Flags
}

func (b *Base) Init(rt Runtime) error {
	b.rt = rt
	return nil
}

func (b *Base) Runtime() Runtime { return b.rt }

func (b *Base) Flags() Flags { return b.flags }

func (b *Base) SetFlags(f Flags) { b.flags = f }

func (b *Base) ShouldUpdatePosition(p *position.Position) bool { return false }

func (b *Base) ShouldClosePosition(p position.Position) bool { return false }
