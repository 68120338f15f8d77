package backtest

import (
	"bytes"
	"context"
	"encoding/csv"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/exchange"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/orchestrator"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/risk"
	"github.com/amirphl/strategy-engine/internal/strategy"
)

var start = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

var eurusd = market.SymbolInfo{
	Symbol:         "EURUSD",
	Category:       market.CategoryForex,
	TickSize:       0.00001,
	ContractSize:   100000,
	LotMin:         0.01,
	LotMax:         50,
	Leverage:       100,
	Currency:       "EUR",
	CurrencyProfit: "USD",
}

func flat(n int, price float64, from time.Time) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = candle.Candle{Date: from.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price}
	}
	return out
}

func randomWalk(n int, seed int64) []candle.Candle {
	rng := rand.New(rand.NewSource(seed))
	out := make([]candle.Candle, n)
	price := 1.1
	for i := range out {
		open := price
		price += (rng.Float64() - 0.5) * 0.0008
		high := max(open, price) + rng.Float64()*0.0003
		low := min(open, price) - rng.Float64()*0.0003
		out[i] = candle.Candle{Date: start.Add(time.Duration(i) * time.Minute), Open: open, High: high, Low: low, Close: price}
	}
	return out
}

// onceStrategy buys on the first candle close with explicit stops.
type onceStrategy struct {
	strategy.Base
	done     bool
	sl, tp   float64
	runCalls int
}

func (s *onceStrategy) Name() string { return "once" }

func (s *onceStrategy) Run(ctx context.Context) error {
	s.runCalls++
	if s.done {
		return nil
	}
	entry := position.EntryPrice(position.Buy, s.Runtime().LastTick())
	if _, err := s.Runtime().OpenPosition(ctx, position.Buy, entry-s.sl, entry+s.tp); err != nil {
		return err
	}
	s.done = true
	return nil
}

// flipStrategy alternates direction on every run using default stops.
type flipStrategy struct {
	strategy.Base
	n int
}

func (s *flipStrategy) Name() string { return "flip" }

func (s *flipStrategy) Run(ctx context.Context) error {
	dir := position.Buy
	if s.n%2 == 1 {
		dir = position.Sell
	}
	s.n++
	_, err := s.Runtime().OpenPosition(ctx, dir, 0, 0)
	return err
}

func baseConfig(candles []candle.Candle, warmup int) Config {
	return Config{
		Orchestrator: orchestrator.Config{
			RiskPercent:           1,
			DefaultStopLossPips:   100,
			DefaultTakeProfitPips: 150,
			AccountCurrency:       "USD",
		},
		Simulator: SimulatorConfig{
			Info:      eurusd,
			Timeframe: "1m",
			Candles:   candles,
			Warmup:    warmup,
			Balance:   10000,
			MinSpread: 1,
			MaxSpread: 1,
			Seed:      7,
		},
	}
}

func TestRun_StopLossAtCandleLow(t *testing.T) {
	candles := flat(21, 1.1, start)
	candles = append(candles, candle.Candle{Date: start.Add(21 * time.Minute), Open: 1.1, High: 1.1002, Low: 1.099, Close: 1.0995})
	candles = append(candles, flat(5, 1.0995, start.Add(22*time.Minute))...)

	s := &onceStrategy{sl: 0.0005, tp: 0.002}
	report, err := Run(context.Background(), baseConfig(candles, 20), s)
	require.NoError(t, err)

	require.Len(t, report.Positions, 1)
	p := report.Positions[0]
	assert.Equal(t, position.Buy, p.Direction)
	assert.Equal(t, 2.0, p.Volume)
	assert.Equal(t, 1.1, p.OpenPrice)
	assert.InDelta(t, 1.09951, p.ClosePrice, 1e-9)
	assert.Equal(t, "stop loss", p.Comment)
	assert.InDelta(t, -100, p.Profit, 1e-9)
	assert.Equal(t, start.Add(21*time.Minute+30*time.Second), p.DateClose)

	assert.Equal(t, 1, report.Result.TotalPositions)
	assert.InDelta(t, 9900, report.FinalBalance, 1e-9)
	assert.Nil(t, report.Disabled)
	assert.Greater(t, s.runCalls, 1)
}

func TestRun_HighIsReplayedBeforeLow(t *testing.T) {
	// The bullish candle reaches both stops; the high tick comes first.
	candles := flat(21, 1.1, start)
	candles = append(candles, candle.Candle{Date: start.Add(21 * time.Minute), Open: 1.1, High: 1.101, Low: 1.099, Close: 1.1005})
	candles = append(candles, flat(5, 1.1005, start.Add(22*time.Minute))...)

	report, err := Run(context.Background(), baseConfig(candles, 20), &onceStrategy{sl: 0.0005, tp: 0.0005})
	require.NoError(t, err)

	require.Len(t, report.Positions, 1)
	p := report.Positions[0]
	assert.Equal(t, "take profit", p.Comment)
	assert.InDelta(t, 1.10051, p.ClosePrice, 1e-9)
	assert.InDelta(t, 100, p.Profit, 1e-9)
	assert.Equal(t, start.Add(21*time.Minute+15*time.Second), p.DateClose)
}

func TestQuarterTicks(t *testing.T) {
	for _, c := range []candle.Candle{
		{Date: start, Open: 1.1, High: 1.101, Low: 1.099, Close: 1.1005},
		{Date: start, Open: 1.1, High: 1.1002, Low: 1.099, Close: 1.0995},
	} {
		ticks := quarterTicks(c, time.Minute)
		assert.Equal(t, []float64{c.Open, c.High, c.Low, c.Close},
			[]float64{ticks[0].bid, ticks[1].bid, ticks[2].bid, ticks[3].bid})
		assert.Equal(t, start.Add(45*time.Second), ticks[3].at)
	}
}

func TestSimulator_GapFillsAtOpen(t *testing.T) {
	candles := flat(20, 1.1, start)
	candles = append(candles, candle.Candle{Date: start.Add(20 * time.Minute), Open: 1.098, High: 1.0985, Low: 1.097, Close: 1.098})
	sim, err := NewSimulator(baseConfig(candles, 20).Simulator)
	require.NoError(t, err)

	var closed []position.Position
	sim.AddEvents(exchange.Handlers{OnPositionClosed: func(p position.Position) { closed = append(closed, p) }})
	require.NoError(t, sim.OpenPosition(context.Background(), position.Position{
		ID: "gap", Symbol: "EURUSD", Direction: position.Buy, Volume: 1, StopLoss: 1.0995,
	}))
	require.NoError(t, sim.Start(context.Background()))

	require.Len(t, closed, 1)
	assert.Equal(t, "stop loss", closed[0].Comment)
	assert.Equal(t, 1.098, closed[0].ClosePrice)
	assert.InDelta(t, -201, closed[0].Profit, 1e-9)
	assert.Equal(t, start.Add(20*time.Minute), closed[0].DateClose)
}

func TestSimulator_ProfitInAccountCurrency(t *testing.T) {
	usdjpy := market.SymbolInfo{
		Symbol: "USDJPY", Category: market.CategoryForex, TickSize: 0.001, ContractSize: 100000,
		LotMin: 0.01, LotMax: 50, Leverage: 100, Currency: "USD", CurrencyProfit: "JPY",
	}
	candles := flat(20, 150, start)
	candles = append(candles, candle.Candle{Date: start.Add(20 * time.Minute), Open: 150, High: 150.1, Low: 150, Close: 150.1})
	cfg := baseConfig(candles, 20).Simulator
	cfg.Info = usdjpy
	cfg.Lots = risk.LotValueConfig{AccountCurrency: "USD"}
	sim, err := NewSimulator(cfg)
	require.NoError(t, err)

	var closed []position.Position
	sim.AddEvents(exchange.Handlers{OnPositionClosed: func(p position.Position) { closed = append(closed, p) }})
	require.NoError(t, sim.OpenPosition(context.Background(), position.Position{
		ID: "jpy", Symbol: "USDJPY", Direction: position.Buy, Volume: 1, TakeProfit: 150.1,
	}))
	require.NoError(t, sim.Start(context.Background()))

	require.Len(t, closed, 1)
	assert.Equal(t, "take profit", closed[0].Comment)
	// 99 pips of 0.001 JPY per 100000 units at 150.1 JPY per USD.
	assert.InDelta(t, 65.96, closed[0].Profit, 1e-9)
}

func TestRun_CrossRateConvertsProfit(t *testing.T) {
	eurgbp := market.SymbolInfo{
		Symbol: "EURGBP", Category: market.CategoryForex, TickSize: 0.00001, ContractSize: 100000,
		LotMin: 0.01, LotMax: 50, Leverage: 100, Currency: "EUR", CurrencyProfit: "GBP",
	}
	candles := flat(21, 0.85, start)
	candles = append(candles, candle.Candle{Date: start.Add(21 * time.Minute), Open: 0.85, High: 0.851, Low: 0.8495, Close: 0.8505})
	candles = append(candles, flat(5, 0.8505, start.Add(22*time.Minute))...)

	cfg := baseConfig(candles, 20)
	cfg.Simulator.Info = eurgbp
	_, err := Run(context.Background(), cfg, &onceStrategy{sl: 0.0005, tp: 0.0005})
	require.ErrorIs(t, err, ErrCrossRateMissing)

	// USDGBP at 0.8 makes one GBP worth 1.25 USD.
	cfg.Simulator.CrossRate = 0.8
	report, err := Run(context.Background(), cfg, &onceStrategy{sl: 0.0005, tp: 0.0005})
	require.NoError(t, err)

	require.Len(t, report.Positions, 1)
	p := report.Positions[0]
	assert.Equal(t, 1.6, p.Volume)
	assert.Equal(t, "take profit", p.Comment)
	assert.InDelta(t, 100, p.Profit, 1e-9)
	assert.InDelta(t, 10100, report.FinalBalance, 1e-9)
}

func TestRun_Deterministic(t *testing.T) {
	candles := randomWalk(400, 3)
	cfg := baseConfig(candles, 50)
	cfg.Simulator.MinSpread, cfg.Simulator.MaxSpread = 0.5, 3

	type trade struct {
		dir          position.Direction
		open, closed time.Time
		profit       float64
	}
	run := func() ([]trade, *Report) {
		r, err := Run(context.Background(), cfg, &flipStrategy{})
		require.NoError(t, err)
		var out []trade
		for _, p := range r.Positions {
			out = append(out, trade{p.Direction, p.DateOpen, p.DateClose, p.Profit})
		}
		return out, r
	}

	first, r1 := run()
	second, r2 := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, r1.Result, r2.Result)
	assert.Equal(t, r1.FinalBalance, r2.FinalBalance)
	assert.InDelta(t, r1.StartingBalance+r1.Result.Profit, r1.FinalBalance, 1e-6)

	for i := 1; i < len(r1.Positions); i++ {
		assert.False(t, r1.Positions[i].DateOpen.Before(r1.Positions[i-1].DateClose), "one position at a time")
	}
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), baseConfig(flat(10, 1.1, start), 10), &flipStrategy{})
	assert.ErrorIs(t, err, ErrNotEnoughCandles)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, baseConfig(flat(30, 1.1, start), 20), &flipStrategy{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulator_HistoryRangeExcludesReplayingCandle(t *testing.T) {
	candles := flat(30, 1.1, start)
	sim, err := NewSimulator(baseConfig(candles, 20).Simulator)
	require.NoError(t, err)

	got, err := sim.GetHistoryRange(context.Background(), "EURUSD", "1m", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 20)

	hist, err := sim.GetHistory(context.Background(), "EURUSD", "1m")
	require.NoError(t, err)
	assert.Len(t, hist, 20)
	assert.Equal(t, start.Add(20*time.Minute), sim.Now())

	_, err = sim.GetSymbolInfo(context.Background(), "GBPUSD")
	assert.Error(t, err)
}

func TestSimulator_SpreadRounding(t *testing.T) {
	cfg := baseConfig(flat(30, 1.1, start), 20).Simulator
	cfg.MinSpread, cfg.MaxSpread = 3, 0.5
	sim, err := NewSimulator(cfg)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		s := sim.nextSpread()
		assert.GreaterOrEqual(t, s, 0.5)
		assert.LessOrEqual(t, s, 3.0)
		assert.InDelta(t, s, float64(int(s*10+0.5))/10, 1e-9)
	}
}

func TestSimulator_RejectsOutsideSession(t *testing.T) {
	cfg := baseConfig(flat(30, 1.1, start), 20).Simulator
	cfg.Hours = market.TradeHours{{Day: time.Tuesday, From: 0, To: 24 * time.Hour}}
	sim, err := NewSimulator(cfg)
	require.NoError(t, err)

	var rejected []position.Position
	sim.AddEvents(exchange.Handlers{OnPositionRejected: func(p position.Position) { rejected = append(rejected, p) }})
	require.NoError(t, sim.OpenPosition(context.Background(), position.Position{ID: "x", Direction: position.Buy, Volume: 1}))
	sim.flush()
	require.Len(t, rejected, 1)
	assert.Equal(t, "market closed", rejected[0].Comment)
}

func TestWriteCSV(t *testing.T) {
	r := &Report{Positions: []position.Position{{
		ID: "p1", Direction: position.Sell, Volume: 0.5, OpenPrice: 1.1, ClosePrice: 1.09,
		DateOpen: start, DateClose: start.Add(time.Hour), Profit: 500, Comment: "take profit",
	}}}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, r))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Trade#", rows[0][0])
	assert.Equal(t, []string{"1", "p1", "sell", "0.50"}, rows[1][:4])
	assert.Equal(t, "500.00", rows[1][10])

	var out bytes.Buffer
	PrintReport(&out, r)
	assert.Contains(t, out.String(), "Trade 1: sell")
}
