package backtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/exchange"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/risk"
	"github.com/amirphl/strategy-engine/internal/tfutils"
	"github.com/amirphl/strategy-engine/internal/utils"
)

var (
	ErrNotEnoughCandles = errors.New("not enough candles for warmup and replay")
	ErrPositionNotOpen  = errors.New("position is not open in the simulator")
	ErrCrossRateMissing = errors.New("cross rate required to convert profit into account currency")
)

type SimulatorConfig struct {
	Info      market.SymbolInfo
	Timeframe string
	Hours     market.TradeHours
	// Candles are ordered by date. The first Warmup candles form the initial
	// history; the rest are replayed as ticks.
	Candles []candle.Candle
	Warmup  int
	Balance float64
	// Spreads are in points and drawn uniformly per tick.
	MinSpread float64
	MaxSpread float64
	Seed      int64
	// Lots converts price moves into account currency; its Info is taken
	// from the simulated symbol.
	Lots risk.LotValueConfig
	// CrossRate is the constant price of the cross symbol when the quote
	// currency differs from both the base and the account currency.
	CrossRate float64
}

// Simulator is a deterministic gateway replaying candles as ticks. Broker
// events are queued and delivered after each tick has been dispatched.
type Simulator struct {
	exchange.Registry

	cfg    SimulatorConfig
	rng    *rand.Rand
	cursor int

	now     time.Time
	tick    market.Tick
	spread  float64
	balance market.AccountBalance

	lots  *risk.LotValueCalculator
	cross market.Tick

	open   []position.Position
	queue  []func()
	closed int

	// SessionHook is called after the ticks of every replayed candle.
	SessionHook func()
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Warmup <= 0 || len(cfg.Candles) <= cfg.Warmup {
		return nil, fmt.Errorf("%w: %d candles, warmup %d", ErrNotEnoughCandles, len(cfg.Candles), cfg.Warmup)
	}
	if !tfutils.IsValidTimeframe(cfg.Timeframe) {
		return nil, fmt.Errorf("%w: %q", tfutils.ErrUnsupportedTimeframe, cfg.Timeframe)
	}
	if cfg.MaxSpread < cfg.MinSpread {
		cfg.MinSpread, cfg.MaxSpread = cfg.MaxSpread, cfg.MinSpread
	}

	s := &Simulator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		cursor:  cfg.Warmup,
		balance: market.AccountBalance{Balance: cfg.Balance, Equity: cfg.Balance, MarginFree: cfg.Balance},
	}
	last := cfg.Candles[cfg.Warmup-1]
	s.now = last.End()
	s.spread = s.nextSpread()
	s.tick = s.makeTick(last.Close, s.now)

	lots := cfg.Lots
	lots.Info = cfg.Info
	s.lots = risk.NewLotValueCalculator(lots, s.balance, s.tick)
	if symbol := s.lots.CrossSymbol(); symbol != "" {
		if cfg.CrossRate <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrCrossRateMissing, symbol)
		}
		s.cross = market.Tick{Symbol: symbol, Bid: cfg.CrossRate, Ask: cfg.CrossRate, Date: s.now}
		s.lots.UpdateCrossTick(s.cross)
	}
	return s, nil
}

// Now is the replay clock.
func (s *Simulator) Now() time.Time { return s.now }

func (s *Simulator) nextSpread() float64 {
	spread := s.cfg.MinSpread + s.rng.Float64()*(s.cfg.MaxSpread-s.cfg.MinSpread)
	return decimal.NewFromFloat(spread).Round(1).InexactFloat64()
}

func (s *Simulator) makeTick(bid float64, at time.Time) market.Tick {
	return market.Tick{
		Symbol: s.cfg.Info.Symbol,
		Bid:    bid,
		Ask:    bid + s.spread*s.cfg.Info.TickSize,
		Date:   at,
	}
}

func (s *Simulator) GetSymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	if symbol != s.cfg.Info.Symbol {
		return market.SymbolInfo{}, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
	}
	return s.cfg.Info, nil
}

func (s *Simulator) GetTradingHours(ctx context.Context, symbol string) (market.TradeHours, error) {
	return s.cfg.Hours, nil
}

func (s *Simulator) GetHistory(ctx context.Context, symbol, timeframe string) ([]candle.Candle, error) {
	return append([]candle.Candle(nil), s.cfg.Candles[:s.cfg.Warmup]...), nil
}

// GetHistoryRange returns replayed candles within [start, end]. The candle
// currently being replayed is never included.
func (s *Simulator) GetHistoryRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	var out []candle.Candle
	for _, c := range s.cfg.Candles[:s.cursor] {
		if !c.Date.Before(start) && !c.Date.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Simulator) GetBalance(ctx context.Context) (market.AccountBalance, error) {
	return s.balance, nil
}

func (s *Simulator) GetTickPrice(ctx context.Context, symbol string) (market.Tick, error) {
	if s.cross.Symbol != "" && symbol == s.cross.Symbol {
		cross := s.cross
		cross.Date = s.now
		return cross, nil
	}
	return s.tick, nil
}

func (s *Simulator) SubscribePrice(symbols []string, fn exchange.TickHandler) (exchange.Subscription, error) {
	return s.AddPrice(symbols, fn), nil
}

func (s *Simulator) SubscribeEvents(h exchange.Handlers) (exchange.Subscription, error) {
	return s.AddEvents(h), nil
}

func (s *Simulator) enqueue(fn func()) { s.queue = append(s.queue, fn) }

// flush delivers queued events, including events queued by their handlers.
func (s *Simulator) flush() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

func (s *Simulator) indexOf(id string) int {
	for i, p := range s.open {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Simulator) OpenPosition(ctx context.Context, pos position.Position) error {
	info := s.cfg.Info
	var reason string
	switch {
	case !pos.Direction.Valid():
		reason = "invalid direction"
	case pos.Volume < info.LotMin || (info.LotMax > 0 && pos.Volume > info.LotMax):
		reason = fmt.Sprintf("volume %.2f outside [%.2f, %.2f]", pos.Volume, info.LotMin, info.LotMax)
	case !s.cfg.Hours.AlwaysOpen() && !s.cfg.Hours.IsOpen(s.now):
		reason = "market closed"
	}
	if reason != "" {
		rejected := pos
		rejected.Status = position.StatusRejected
		rejected.Comment = reason
		s.enqueue(func() { s.DispatchRejected(rejected) })
		return nil
	}

	opened := pos
	opened.OpenPrice = s.tick.Bid
	opened.DateOpen = s.now
	opened.Status = position.StatusOpened
	s.open = append(s.open, opened)
	s.enqueue(func() { s.DispatchOpened(opened) })
	return nil
}

func (s *Simulator) UpdatePosition(ctx context.Context, price float64, pos position.Position) error {
	i := s.indexOf(pos.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotOpen, pos.ID)
	}
	s.open[i].StopLoss = pos.StopLoss
	s.open[i].TakeProfit = pos.TakeProfit
	s.open[i].Status = position.StatusUpdated
	updated := s.open[i]
	s.enqueue(func() { s.DispatchUpdated(updated) })
	return nil
}

func (s *Simulator) ClosePosition(ctx context.Context, price float64, pos position.Position) error {
	i := s.indexOf(pos.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotOpen, pos.ID)
	}
	s.closeAt(i, s.exitPrice(s.open[i].Direction), "requested")
	return nil
}

// exitPrice is the current price a position leaves at: the bid for buys,
// the ask for sells.
func (s *Simulator) exitPrice(dir position.Direction) float64 {
	if dir == position.Sell {
		return s.tick.Ask
	}
	return s.tick.Bid
}

// closeAt closes the i-th open position at exit. Positions open at the bid,
// so buys are charged the current spread on top of the price move; a sell
// exit is already an ask. Profit is converted into account currency through
// the pip value.
func (s *Simulator) closeAt(i int, exit float64, comment string) {
	p := s.open[i]
	s.open = append(s.open[:i], s.open[i+1:]...)

	info := s.cfg.Info
	diff := p.OpenPrice - exit
	if p.Direction == position.Buy {
		diff = exit - p.OpenPrice - s.spread*info.TickSize
	}
	var money float64
	if info.TickSize > 0 {
		money = diff / info.TickSize * p.Volume * s.lots.PipValueStandard()
	}
	p.ClosePrice = exit
	p.Profit = decimal.NewFromFloat(money).Round(2).InexactFloat64()
	p.DateClose = s.now
	p.Status = position.StatusClosed
	p.Comment = comment
	s.closed++

	s.balance.Balance += p.Profit
	s.balance.Equity = s.balance.Balance
	s.balance.MarginFree = s.balance.Balance
	balance := s.balance
	s.lots.UpdateBalance(balance)

	s.enqueue(func() { s.DispatchClosed(p) })
	s.enqueue(func() { s.DispatchBalance(balance) })
}

// checkStops closes positions whose stop loss or take profit was crossed.
// Buys trigger on the bid, sells on the ask. Fills happen at the stop level;
// when the candle opened beyond it (gap) the fill is the opening price.
func (s *Simulator) checkStops(gap bool) {
	for i := 0; i < len(s.open); {
		p := s.open[i]
		price := s.exitPrice(p.Direction)
		var comment string
		var level float64
		switch {
		case p.StopLoss > 0 && p.Direction == position.Buy && price <= p.StopLoss,
			p.StopLoss > 0 && p.Direction == position.Sell && price >= p.StopLoss:
			comment, level = "stop loss", p.StopLoss
		case p.TakeProfit > 0 && p.Direction == position.Buy && price >= p.TakeProfit,
			p.TakeProfit > 0 && p.Direction == position.Sell && price <= p.TakeProfit:
			comment, level = "take profit", p.TakeProfit
		}
		if comment == "" {
			i++
			continue
		}
		exit := level
		if gap {
			exit = price
		}
		s.closeAt(i, exit, comment)
	}
}

type replayTick struct {
	bid float64
	at  time.Time
}

// quarterTicks splits c into four bids at quarter times: open, high, low,
// close.
func quarterTicks(c candle.Candle, d time.Duration) [4]replayTick {
	prices := [4]float64{c.Open, c.High, c.Low, c.Close}
	var out [4]replayTick
	for i, p := range prices {
		out[i] = replayTick{bid: p, at: c.Date.Add(time.Duration(i) * d / 4)}
	}
	return out
}

// Start replays every remaining candle, then closes what is still open at
// the last price.
func (s *Simulator) Start(ctx context.Context) error {
	d := tfutils.GetTimeframeDuration(s.cfg.Timeframe)
	logger := utils.GetLogger()
	logger.Infof("Backtest | [%s %s] Replaying %d candles", s.cfg.Info.Symbol, s.cfg.Timeframe, len(s.cfg.Candles)-s.cfg.Warmup)

	if s.cross.Symbol != "" {
		s.cross.Date = s.now
		s.DispatchTick(s.cross)
		s.flush()
	}

	for ; s.cursor < len(s.cfg.Candles); s.cursor++ {
		c := s.cfg.Candles[s.cursor]
		if c.IsPlaceholder() {
			continue
		}
		for n, q := range quarterTicks(c, d) {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.now = q.at
			s.spread = s.nextSpread()
			s.tick = s.makeTick(q.bid, q.at)
			s.lots.UpdateMainTick(s.tick)

			s.DispatchTick(s.tick)
			s.flush()
			s.checkStops(n == 0)
			s.flush()
		}
		if s.SessionHook != nil {
			s.SessionHook()
			s.flush()
		}
	}

	for len(s.open) > 0 {
		s.closeAt(0, s.exitPrice(s.open[0].Direction), "end of data")
	}
	s.flush()

	logger.Infof("Backtest | [%s %s] Replay finished: %d positions closed, balance %.2f", s.cfg.Info.Symbol, s.cfg.Timeframe, s.closed, s.balance.Balance)
	return nil
}
