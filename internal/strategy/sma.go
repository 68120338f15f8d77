package strategy

import (
	"context"
	"fmt"

	"github.com/amirphl/strategy-engine/internal/indicator"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/utils"
)

func init() {
	Register("sma_cross", func(p Params) (Strategy, error) {
		s := NewSMAStrategy(int(p.Get("fast", 10)), int(p.Get("slow", 30)))
		s.TrendPeriod = int(p.Get("trend_period", 0))
		s.SetFlags(Flags{
			RunOnTick:    p.Bool("run_on_tick"),
			UpdateOnTick: p.Bool("update_on_tick"),
			CloseOnTick:  p.Bool("close_on_tick"),
		})
		if err := s.validate(); err != nil {
			return nil, err
		}
		return s, nil
	})
}

// SMAStrategy trades crossovers of a fast and a slow moving average. With a
// TrendPeriod, entries must agree with the secondary timeframe trend: buys
// only above its SMA, sells only below. Requires a secondary timeframe.
type SMAStrategy struct {
	Base

	FastPeriod  int
	SlowPeriod  int
	TrendPeriod int

	fast, slow, trend *indicator.SMA
}

func NewSMAStrategy(fastPeriod, slowPeriod int) *SMAStrategy {
	return &SMAStrategy{
		FastPeriod: fastPeriod,
		SlowPeriod: slowPeriod,
		fast:       indicator.NewSMA(fastPeriod),
		slow:       indicator.NewSMA(slowPeriod),
	}
}

func (s *SMAStrategy) Name() string { return "SMA Crossover" }

func (s *SMAStrategy) validate() error {
	if s.FastPeriod < 1 || s.SlowPeriod <= s.FastPeriod {
		return fmt.Errorf("sma periods must satisfy 0 < fast < slow, got %d/%d", s.FastPeriod, s.SlowPeriod)
	}
	if s.TrendPeriod < 0 {
		return fmt.Errorf("trend period must not be negative, got %d", s.TrendPeriod)
	}
	return nil
}

func (s *SMAStrategy) Init(rt Runtime) error {
	if err := s.validate(); err != nil {
		return err
	}
	if err := s.Base.Init(rt); err != nil {
		return err
	}
	rt.RegisterIndicator(s.fast, false)
	rt.RegisterIndicator(s.slow, false)
	if s.TrendPeriod > 0 {
		s.trend = indicator.NewSMA(s.TrendPeriod)
		rt.RegisterIndicator(s.trend, true)
	}
	return nil
}

// cross returns +1 when fast crossed above slow, -1 when it crossed below.
func (s *SMAStrategy) cross() int {
	fast, prevFast, ok1 := s.fast.Last()
	slow, prevSlow, ok2 := s.slow.Last()
	if !ok1 || !ok2 {
		return 0
	}
	switch {
	case prevFast <= prevSlow && fast > slow:
		return 1
	case prevFast >= prevSlow && fast < slow:
		return -1
	}
	return 0
}

func (s *SMAStrategy) trendAllows(dir position.Direction) bool {
	if s.trend == nil {
		return true
	}
	secondary := s.rt.SecondaryCandles()
	if len(secondary) == 0 {
		return false
	}
	last := secondary[len(secondary)-1].Close
	if dir == position.Buy {
		return last > s.trend.Value()
	}
	return last < s.trend.Value()
}

func (s *SMAStrategy) Run(ctx context.Context) error {
	var dir position.Direction
	switch s.cross() {
	case 1:
		dir = position.Buy
	case -1:
		dir = position.Sell
	default:
		return nil
	}

	info := s.rt.SymbolInfo()
	if !s.trendAllows(dir) {
		utils.GetLogger().Debugf("Strategy | [%s SMA] %s crossover against the trend, skipped", info.Symbol, dir)
		return nil
	}
	utils.GetLogger().Infof("Strategy | [%s SMA] Signal %s - Fast SMA: %.5f, Slow SMA: %.5f", info.Symbol, dir, s.fast.Value(), s.slow.Value())
	if _, err := s.rt.OpenPosition(ctx, dir, 0, 0); err != nil {
		return fmt.Errorf("opening %s position: %w", dir, err)
	}
	return nil
}

// ShouldClosePosition closes on the opposite crossover.
func (s *SMAStrategy) ShouldClosePosition(p position.Position) bool {
	c := s.cross()
	return (p.Direction == position.Buy && c < 0) || (p.Direction == position.Sell && c > 0)
}
