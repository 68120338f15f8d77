package orchestrator

import (
	"context"
	"fmt"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/indicator"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/performance"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/utils"
)

// process runs one decision cycle. On candle close every gate is the negation
// of its tick flag, so each step runs either per tick or per candle, never both.
func (o *Orchestrator) process(onTick bool) {
	defer func() {
		if r := recover(); r != nil {
			o.DisableStrategy(o.ctx, ReasonError, fmt.Errorf("decision cycle panic: %v", r))
		}
	}()

	if !o.canRun.Load() {
		return
	}
	o.decision.Lock()
	defer o.decision.Unlock()
	if !o.canRun.Load() {
		return
	}

	if err := o.refreshIndicators(); err != nil {
		o.DisableStrategy(o.ctx, ReasonError, fmt.Errorf("indicator refresh failed: %w", err))
		return
	}

	flags := o.strat.Flags()
	runGate, updateGate, closeGate := flags.RunOnTick, flags.UpdateOnTick, flags.CloseOnTick
	if !onTick {
		runGate, updateGate, closeGate = !runGate, !updateGate, !closeGate
	}

	if runGate && !o.manager.InProgress() {
		o.guard("Run", func() error { return o.strat.Run(o.ctx) })
		return
	}

	pos, ok := o.manager.Opened()
	if !ok || pos.Status == position.StatusClosing {
		return
	}

	if closeGate {
		var shouldClose bool
		o.guard("ShouldClosePosition", func() error {
			shouldClose = o.strat.ShouldClosePosition(pos.Clone())
			return nil
		})
		if shouldClose {
			if err := o.manager.CloseAsync(o.ctx, pos); err != nil {
				utils.GetLogger().Errorf("Orchestrator | [%s %s] Close request failed: %v", o.cfg.Symbol, o.cfg.StrategyID, err)
			}
			return
		}
	}

	if updateGate {
		candidate := pos.Clone()
		var shouldUpdate bool
		o.guard("ShouldUpdatePosition", func() error {
			shouldUpdate = o.strat.ShouldUpdatePosition(&candidate)
			return nil
		})
		if shouldUpdate {
			if err := o.manager.UpdateAsync(o.ctx, candidate); err != nil {
				utils.GetLogger().Errorf("Orchestrator | [%s %s] Update request failed: %v", o.cfg.Symbol, o.cfg.StrategyID, err)
			}
		}
	}
}

// guard runs one strategy callback. Errors and panics are logged and only
// skip the current cycle.
func (o *Orchestrator) guard(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			utils.GetLogger().Errorf("Orchestrator | [%s %s] %s panicked: %v", o.cfg.Symbol, o.cfg.StrategyID, step, r)
		}
	}()
	if err := fn(); err != nil {
		utils.GetLogger().Warnf("Orchestrator | [%s %s] %s failed: %v", o.cfg.Symbol, o.cfg.StrategyID, step, err)
	}
}

func (o *Orchestrator) refreshIndicators() error {
	primary := candle.TrimPlaceholders(o.agg.Snapshot())
	var secondary []candle.Candle
	if o.cfg.SecondaryTimeframe != "" {
		secondary = candle.Resample(primary, o.cfg.SecondaryTimeframe)
	}

	o.mu.Lock()
	o.primary, o.secondary = primary, secondary
	o.mu.Unlock()

	if o.indicators.Len() == 0 {
		return nil
	}
	return o.indicators.Refresh(o.ctx, primary, secondary)
}

func (o *Orchestrator) RegisterIndicator(ind indicator.Indicator, secondary bool) {
	o.indicators.Register(ind, secondary)
}

// Candles returns the primary window as of the current decision cycle.
func (o *Orchestrator) Candles() []candle.Candle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.primary
}

func (o *Orchestrator) SecondaryCandles() []candle.Candle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.secondary
}

func (o *Orchestrator) LastTick() market.Tick {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastTick
}

func (o *Orchestrator) SymbolInfo() market.SymbolInfo { return o.info }

func (o *Orchestrator) Result() performance.Result { return o.tracker.Result() }

// OpenPosition sizes the position from the stop distance and requests it.
func (o *Orchestrator) OpenPosition(ctx context.Context, dir position.Direction, sl, tp float64) (position.Position, error) {
	if !o.canRun.Load() {
		return position.Position{}, ErrStrategyDisabled
	}
	if !dir.Valid() {
		return position.Position{}, fmt.Errorf("%w: direction %q", position.ErrInvalidRequest, dir)
	}
	entry := position.EntryPrice(dir, o.LastTick())
	if sl == 0 {
		sl = o.manager.DefaultStopLoss(dir, entry)
	}
	if sl == 0 {
		return position.Position{}, ErrNoStopLoss
	}

	volume, err := o.money.CalculatePositionSize(entry, sl)
	if err != nil {
		return position.Position{}, fmt.Errorf("sizing %s position: %w", dir, err)
	}
	return o.manager.OpenAsync(ctx, o.cfg.Symbol, dir, volume, sl, tp)
}
