package strategy

import (
	"context"
	"fmt"

	"github.com/amirphl/strategy-engine/internal/indicator"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/utils"
)

func init() {
	Register("rsi", func(p Params) (Strategy, error) {
		s := NewRSIStrategy(int(p.Get("period", 14)), p.Get("overbought", 70), p.Get("oversold", 30))
		s.TrailingPips = p.Get("trailing_pips", 0)
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

// RSIStrategy buys when RSI crosses back above the oversold level and sells
// when it crosses back below the overbought level. Positions are closed when
// RSI reaches the opposite level.
type RSIStrategy struct {
	Base

	Period       int
	Overbought   float64
	Oversold     float64
	TrailingPips float64

	rsi *indicator.RSI
}

func NewRSIStrategy(period int, overbought, oversold float64) *RSIStrategy {
	return &RSIStrategy{
		Period:     period,
		Overbought: overbought,
		Oversold:   oversold,
		rsi:        indicator.NewRSI(period),
	}
}

func (s *RSIStrategy) Name() string { return "RSI" }

func (s *RSIStrategy) validate() error {
	if s.Period < 2 {
		return fmt.Errorf("rsi period must be at least 2, got %d", s.Period)
	}
	if s.Oversold <= 0 || s.Overbought >= 100 || s.Oversold >= s.Overbought {
		return fmt.Errorf("rsi levels must satisfy 0 < oversold < overbought < 100, got %v/%v", s.Oversold, s.Overbought)
	}
	return nil
}

func (s *RSIStrategy) Init(rt Runtime) error {
	if err := s.validate(); err != nil {
		return err
	}
	if err := s.Base.Init(rt); err != nil {
		return err
	}
	rt.RegisterIndicator(s.rsi, false)
	return nil
}

func (s *RSIStrategy) Run(ctx context.Context) error {
	cur, prev, ok := s.rsi.Last()
	if !ok {
		return nil
	}

	var dir position.Direction
	switch {
	case prev < s.Oversold && cur >= s.Oversold:
		dir = position.Buy
	case prev > s.Overbought && cur <= s.Overbought:
		dir = position.Sell
	default:
		return nil
	}

	info := s.rt.SymbolInfo()
	utils.GetLogger().Infof("Strategy | [%s RSI] Signal %s - RSI: %.2f (prev %.2f)", info.Symbol, dir, cur, prev)
	if _, err := s.rt.OpenPosition(ctx, dir, 0, 0); err != nil {
		return fmt.Errorf("opening %s position: %w", dir, err)
	}
	return nil
}

// ShouldUpdatePosition trails the stop loss TrailingPips behind the price.
func (s *RSIStrategy) ShouldUpdatePosition(p *position.Position) bool {
	if s.TrailingPips <= 0 {
		return false
	}
	t := s.rt.LastTick()
	distance := s.TrailingPips * s.rt.SymbolInfo().TickSize

	var stop float64
	if p.Direction == position.Buy {
		stop = t.Bid - distance
		if stop <= p.StopLoss || stop <= p.OpenPrice {
			return false
		}
	} else {
		stop = t.AskOrBid() + distance
		if (p.StopLoss != 0 && stop >= p.StopLoss) || stop >= p.OpenPrice {
			return false
		}
	}
	p.StopLoss = stop
	return true
}

func (s *RSIStrategy) ShouldClosePosition(p position.Position) bool {
	cur, _, ok := s.rsi.Last()
	if !ok {
		return false
	}
	if p.Direction == position.Buy {
		return cur >= s.Overbought
	}
	return cur <= s.Oversold
}
