package strategy

import (
	"context"
	"fmt"

	"github.com/amirphl/strategy-engine/internal/indicator"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/utils"
)

func init() {
	Register("stochastic_ha", func(p Params) (Strategy, error) {
		k, smoothK, d := indicator.DefaultStochasticSettings()
		s := NewStochasticHeikinAshi(int(p.Get("period_k", float64(k))), int(p.Get("smooth_k", float64(smoothK))), int(p.Get("period_d", float64(d))))
		s.Overbought = p.Get("overbought", indicator.StochasticOverbought)
		s.Oversold = p.Get("oversold", indicator.StochasticOversold)
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

// StochasticHeikinAshi trades %K/%D crossovers of a stochastic computed on
// Heiken Ashi candles. A buy needs a bullish crossover below the oversold
// level on a bullish Heiken Ashi candle; sells mirror it. Positions close
// when %K reaches the opposite level.
type StochasticHeikinAshi struct {
	Base

	Overbought float64
	Oversold   float64

	stoch *indicator.Stochastic
}

func NewStochasticHeikinAshi(periodK, smoothK, periodD int) *StochasticHeikinAshi {
	return &StochasticHeikinAshi{
		Overbought: indicator.StochasticOverbought,
		Oversold:   indicator.StochasticOversold,
		stoch:      indicator.NewStochastic(periodK, smoothK, periodD, true),
	}
}

func (s *StochasticHeikinAshi) Name() string { return "Stochastic Heikin Ashi" }

func (s *StochasticHeikinAshi) validate() error {
	if s.stoch.PeriodK < 2 || s.stoch.SmoothK < 1 || s.stoch.PeriodD < 1 {
		return fmt.Errorf("invalid stochastic periods %d/%d/%d", s.stoch.PeriodK, s.stoch.SmoothK, s.stoch.PeriodD)
	}
	if s.Oversold <= 0 || s.Overbought >= 100 || s.Oversold >= s.Overbought {
		return fmt.Errorf("stochastic levels must satisfy 0 < oversold < overbought < 100, got %v/%v", s.Oversold, s.Overbought)
	}
	return nil
}

func (s *StochasticHeikinAshi) Init(rt Runtime) error {
	if err := s.validate(); err != nil {
		return err
	}
	if err := s.Base.Init(rt); err != nil {
		return err
	}
	rt.RegisterIndicator(s.stoch, false)
	return nil
}

func (s *StochasticHeikinAshi) Run(ctx context.Context) error {
	k, d, prevK, prevD, ok := s.stoch.Last()
	if !ok {
		return nil
	}
	ha := s.stoch.LastCandle()

	var dir position.Direction
	switch {
	case indicator.IsBullishCrossover(prevK, prevD, k, d) && prevK < s.Oversold && ha.IsBullish():
		dir = position.Buy
	case indicator.IsBearishCrossover(prevK, prevD, k, d) && prevK > s.Overbought && ha.IsBearish():
		dir = position.Sell
	default:
		return nil
	}

	utils.GetLogger().Infof("Strategy | [%s Stochastic-HA] Signal %s - K: %.2f, D: %.2f", s.rt.SymbolInfo().Symbol, dir, k, d)
	if _, err := s.rt.OpenPosition(ctx, dir, 0, 0); err != nil {
		return fmt.Errorf("opening %s position: %w", dir, err)
	}
	return nil
}

func (s *StochasticHeikinAshi) ShouldClosePosition(p position.Position) bool {
	k, _, _, _, ok := s.stoch.Last()
	if !ok {
		return false
	}
	if p.Direction == position.Buy {
		return k >= s.Overbought
	}
	return k <= s.Oversold
}
