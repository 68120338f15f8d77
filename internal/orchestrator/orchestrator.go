// Package orchestrator runs one strategy on one symbol: it feeds ticks into the
// candle aggregator, refreshes indicators, gates the strategy's decisions and
// routes broker events to the position manager, risk engine and tracker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/exchange"
	"github.com/amirphl/strategy-engine/internal/indicator"
	"github.com/amirphl/strategy-engine/internal/journal"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/notifier"
	"github.com/amirphl/strategy-engine/internal/performance"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/risk"
	"github.com/amirphl/strategy-engine/internal/strategy"
	"github.com/amirphl/strategy-engine/internal/tfutils"
	"github.com/amirphl/strategy-engine/internal/utils"
)

var (
	ErrStrategyDisabled = errors.New("strategy is disabled")
	ErrNoStopLoss       = errors.New("a stop loss is required to size the position")
)

type Config struct {
	StrategyID         string
	Symbol             string
	Timeframe          string
	SecondaryTimeframe string
	Capacity           int

	RiskPercent           float64
	DefaultStopLossPips   float64
	DefaultTakeProfitPips float64
	AccountCurrency       string
	CrossSymbol           string
	CrossInverted         bool
	Thresholds            risk.Thresholds
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("%w: %q", tfutils.ErrUnsupportedTimeframe, c.Timeframe)
	}
	if c.SecondaryTimeframe != "" {
		if !tfutils.IsValidTimeframe(c.SecondaryTimeframe) {
			return fmt.Errorf("%w: secondary %q", tfutils.ErrUnsupportedTimeframe, c.SecondaryTimeframe)
		}
		if tfutils.TimeframeMinutes(c.SecondaryTimeframe) <= tfutils.TimeframeMinutes(c.Timeframe) {
			return fmt.Errorf("secondary timeframe %s must be larger than %s", c.SecondaryTimeframe, c.Timeframe)
		}
	}
	if c.RiskPercent <= 0 || c.RiskPercent > 100 {
		return fmt.Errorf("risk percent must be in (0, 100], got %v", c.RiskPercent)
	}
	return nil
}

// Storage persists positions and journal events.
type Storage interface {
	SavePosition(ctx context.Context, p position.Position) error
	LogEvent(ctx context.Context, e journal.Event) error
}

// Publisher pushes live results and closed candles to external consumers.
type Publisher interface {
	PublishResult(ctx context.Context, strategyID string, res performance.Result) error
	PublishCandle(ctx context.Context, c candle.Candle) error
}

type Option func(*Orchestrator)

func WithStorage(s Storage) Option { return func(o *Orchestrator) { o.storage = s } }

func WithPublisher(p Publisher) Option { return func(o *Orchestrator) { o.publisher = p } }

func WithNotifier(n notifier.Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

// WithOnDisabled registers a handler invoked once when the strategy is disabled.
func WithOnDisabled(fn func(*DisabledError)) Option {
	return func(o *Orchestrator) { o.onDisabled = fn }
}

// WithAggregatorOptions passes options through to the candle aggregator.
func WithAggregatorOptions(opts ...candle.Option) Option {
	return func(o *Orchestrator) { o.aggOpts = append(o.aggOpts, opts...) }
}

// Orchestrator implements strategy.Runtime for the strategy it runs.
type Orchestrator struct {
	ctx   context.Context
	cfg   Config
	gw    exchange.Gateway
	strat strategy.Strategy
	info  market.SymbolInfo

	agg        *candle.Aggregator
	manager    *position.Manager
	money      *risk.MoneyManagement
	tracker    *performance.Tracker
	indicators *indicator.Set

	storage    Storage
	publisher  Publisher
	notifier   notifier.Notifier
	onDisabled func(*DisabledError)
	aggOpts    []candle.Option

	canRun        atomic.Bool
	decision      sync.Mutex
	disabled      atomic.Pointer[DisabledError]
	notifications sync.WaitGroup

	mu        sync.RWMutex
	lastTick  market.Tick
	primary   []candle.Candle
	secondary []candle.Candle

	subMu    sync.Mutex
	priceSub exchange.Subscription
	eventSub exchange.Subscription
}

// New initializes every component of the strategy and subscribes it to the
// gateway. Missing symbol metadata, balance, trading hours or history fail
// construction.
func New(ctx context.Context, cfg Config, gw exchange.Gateway, strat strategy.Strategy, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if cfg.StrategyID == "" {
		cfg.StrategyID = strat.Name() + "-" + cfg.Symbol
	}

	o := &Orchestrator{
		ctx:        ctx,
		cfg:        cfg,
		gw:         gw,
		strat:      strat,
		tracker:    performance.NewTracker(),
		indicators: indicator.NewSet(),
		notifier:   notifier.Log{},
	}
	for _, opt := range opts {
		opt(o)
	}

	info, err := gw.GetSymbolInfo(ctx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol info for %s: %w", cfg.Symbol, err)
	}
	o.info = info
	balance, err := gw.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	tick, err := gw.GetTickPrice(ctx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get price of %s: %w", cfg.Symbol, err)
	}
	o.lastTick = tick

	aggOpts := o.aggOpts
	if cfg.Capacity > 0 {
		aggOpts = append([]candle.Option{candle.WithCapacity(cfg.Capacity)}, aggOpts...)
	}
	o.agg, err = candle.NewAggregator(ctx, gw, cfg.Symbol, cfg.Timeframe, aggOpts...)
	if err != nil {
		return nil, err
	}

	o.manager = position.NewManager(position.Config{
		StrategyID:            cfg.StrategyID,
		Info:                  info,
		DefaultStopLossPips:   cfg.DefaultStopLossPips,
		DefaultTakeProfitPips: cfg.DefaultTakeProfitPips,
	}, gw, o.LastTick)

	calc := risk.NewLotValueCalculator(risk.LotValueConfig{
		Info:            info,
		AccountCurrency: cfg.AccountCurrency,
		CrossSymbol:     cfg.CrossSymbol,
		CrossInverted:   cfg.CrossInverted,
	}, balance, tick)
	o.money = risk.NewMoneyManagement(calc, cfg.RiskPercent, cfg.Thresholds)

	if err := strat.Init(o); err != nil {
		o.agg.Close()
		return nil, fmt.Errorf("strategy %s init failed: %w", strat.Name(), err)
	}

	o.agg.SetHandlers(candle.Handlers{
		OnTick:         o.onTick,
		OnCandleClosed: o.onCandleClosed,
	})
	o.manager.SetHandlers(position.Handlers{
		OnOpened:   o.onPositionOpened,
		OnRejected: o.onPositionRejected,
		OnUpdated:  o.onPositionUpdated,
		OnClosed:   o.onPositionClosed,
	})

	o.canRun.Store(true)

	eventSub, err := gw.SubscribeEvents(exchange.Handlers{
		OnPositionOpened:   func(p position.Position) { o.manager.HandleOpened(p) },
		OnPositionUpdated:  func(p position.Position) { o.manager.HandleUpdated(p) },
		OnPositionRejected: func(p position.Position) { o.manager.HandleRejected(p) },
		OnPositionClosed:   func(p position.Position) { o.manager.HandleClosed(p) },
		OnBalanceChanged:   calc.UpdateBalance,
		OnDisconnected: func() {
			o.DisableStrategy(o.ctx, ReasonAPI, exchange.ErrDisconnected)
		},
	})
	if err != nil {
		o.agg.Close()
		return nil, fmt.Errorf("failed to subscribe to broker events: %w", err)
	}

	symbols := []string{cfg.Symbol}
	if cross := calc.CrossSymbol(); cross != "" && cross != cfg.Symbol {
		symbols = append(symbols, cross)
	}
	priceSub, err := gw.SubscribePrice(symbols, o.handleTick)
	if err != nil {
		eventSub.Unsubscribe()
		o.agg.Close()
		return nil, fmt.Errorf("failed to subscribe to prices: %w", err)
	}

	o.subMu.Lock()
	o.eventSub, o.priceSub = eventSub, priceSub
	o.subMu.Unlock()

	utils.GetLogger().Infof("Orchestrator | [%s %s] Started on %s, flags %+v", cfg.Symbol, cfg.StrategyID, cfg.Timeframe, strat.Flags())
	return o, nil
}

func (o *Orchestrator) ID() string                     { return o.cfg.StrategyID }
func (o *Orchestrator) Manager() *position.Manager     { return o.manager }
func (o *Orchestrator) Tracker() *performance.Tracker  { return o.tracker }
func (o *Orchestrator) Aggregator() *candle.Aggregator { return o.agg }

func (o *Orchestrator) MoneyManagement() *risk.MoneyManagement { return o.money }

// CanRun reports whether the strategy is still allowed to make decisions.
func (o *Orchestrator) CanRun() bool { return o.canRun.Load() }

// Disabled returns why the strategy was disabled, or nil while it runs.
func (o *Orchestrator) Disabled() *DisabledError { return o.disabled.Load() }

// Close tears down both gateway subscriptions and the session timer without
// raising a notification. Pending notifications are delivered first.
func (o *Orchestrator) Close() {
	o.canRun.Store(false)
	o.subMu.Lock()
	for _, sub := range []exchange.Subscription{o.priceSub, o.eventSub} {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	o.priceSub, o.eventSub = nil, nil
	o.subMu.Unlock()
	o.agg.Close()
	o.WaitNotifications()
}

// WaitNotifications blocks until disable notifications in flight are sent.
func (o *Orchestrator) WaitNotifications() { o.notifications.Wait() }

func (o *Orchestrator) now() time.Time {
	if t := o.LastTick().Date; !t.IsZero() {
		return t
	}
	return time.Now().UTC()
}

func (o *Orchestrator) handleTick(t market.Tick) {
	defer func() {
		if r := recover(); r != nil {
			o.DisableStrategy(o.ctx, ReasonError, fmt.Errorf("tick handler panic: %v", r))
		}
	}()

	calc := o.money.Calculator()
	if cross := calc.CrossSymbol(); cross != "" && t.Symbol == cross {
		calc.UpdateCrossTick(t)
	}
	if t.Symbol != o.cfg.Symbol {
		return
	}

	o.mu.Lock()
	o.lastTick = t
	o.mu.Unlock()
	calc.UpdateMainTick(t)

	o.agg.ApplyTick(t)
}

func (o *Orchestrator) onTick(t market.Tick) {
	o.process(true)
}

func (o *Orchestrator) onCandleClosed(c candle.Candle) {
	if o.publisher != nil {
		if err := o.publisher.PublishCandle(o.ctx, c); err != nil {
			utils.GetLogger().Warnf("Orchestrator | [%s %s] Failed to publish candle: %v", o.cfg.Symbol, o.cfg.StrategyID, err)
		}
	}
	o.process(false)
}
