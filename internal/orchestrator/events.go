package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/strategy-engine/internal/journal"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/risk"
	"github.com/amirphl/strategy-engine/internal/utils"
)

type Reason string

const (
	ReasonUser      Reason = "user"
	ReasonError     Reason = "error"
	ReasonThreshold Reason = "threshold"
	ReasonAPI       Reason = "api"
)

// DisabledError records why a strategy stopped.
type DisabledError struct {
	StrategyID string
	Reason     Reason
	Cause      error
}

func (e *DisabledError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("strategy %s disabled: %s", e.StrategyID, e.Reason)
	}
	return fmt.Sprintf("strategy %s disabled: %s: %v", e.StrategyID, e.Reason, e.Cause)
}

func (e *DisabledError) Unwrap() error { return e.Cause }

// DisableStrategy stops all further decisions. Only the first call has an
// effect. A user-initiated disable also closes the open position; the closed
// confirmation still arrives because the event subscription stays active.
func (o *Orchestrator) DisableStrategy(ctx context.Context, reason Reason, cause error) {
	if !o.canRun.CompareAndSwap(true, false) {
		return
	}
	de := &DisabledError{StrategyID: o.cfg.StrategyID, Reason: reason, Cause: cause}
	o.disabled.Store(de)

	o.subMu.Lock()
	if o.priceSub != nil {
		o.priceSub.Unsubscribe()
		o.priceSub = nil
	}
	o.subMu.Unlock()
	o.agg.Close()

	utils.GetLogger().Errorf("Orchestrator | [%s %s] %v", o.cfg.Symbol, o.cfg.StrategyID, de)

	if reason == ReasonUser {
		if pos, ok := o.manager.Opened(); ok {
			if err := o.manager.CloseAsync(ctx, pos); err != nil {
				utils.GetLogger().Errorf("Orchestrator | [%s %s] Failed to close %s on disable: %v", o.cfg.Symbol, o.cfg.StrategyID, pos.ID, err)
			}
		}
	}

	if o.onDisabled != nil {
		o.onDisabled(de)
	}
	// Callers may hold the decision lock; never block on the notifier here.
	msg := de.Error()
	o.notifications.Add(1)
	go func() {
		defer o.notifications.Done()
		if err := o.notifier.SendWithRetry(msg); err != nil {
			utils.GetLogger().Errorf("Orchestrator | [%s %s] Failed to send disable notification: %v", o.cfg.Symbol, o.cfg.StrategyID, err)
		}
	}()
	data := map[string]any{"reason": string(reason)}
	if cause != nil {
		data["cause"] = cause.Error()
	}
	o.journal(journal.TypeDisabled, de.Error(), data)
}

func (o *Orchestrator) journal(typ, desc string, data map[string]any) {
	if o.storage == nil {
		return
	}
	e := journal.Event{Time: o.now(), StrategyID: o.cfg.StrategyID, Type: typ, Description: desc, Data: data}
	if err := o.storage.LogEvent(o.ctx, e); err != nil {
		utils.GetLogger().Warnf("Orchestrator | [%s %s] Failed to journal %s event: %v", o.cfg.Symbol, o.cfg.StrategyID, typ, err)
	}
}

func (o *Orchestrator) savePosition(p position.Position) {
	if o.storage == nil {
		return
	}
	if err := o.storage.SavePosition(o.ctx, p); err != nil {
		utils.GetLogger().Warnf("Orchestrator | [%s %s] Failed to save position %s: %v", o.cfg.Symbol, o.cfg.StrategyID, p.ID, err)
	}
}

func positionData(p position.Position) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"direction": string(p.Direction),
		"status":    string(p.Status),
		"volume":    p.Volume,
		"price":     p.OpenPrice,
		"sl":        p.StopLoss,
		"tp":        p.TakeProfit,
	}
}

func (o *Orchestrator) onPositionOpened(p position.Position) {
	o.savePosition(p)
	o.journal(journal.TypePosition, "opened "+p.String(), positionData(p))
}

func (o *Orchestrator) onPositionRejected(p position.Position) {
	o.journal(journal.TypePosition, "rejected "+p.ID+": "+p.Comment, positionData(p))
}

func (o *Orchestrator) onPositionUpdated(p position.Position) {
	o.savePosition(p)
}

// onPositionClosed records the result and escalates threshold breaches.
func (o *Orchestrator) onPositionClosed(p position.Position) {
	res := o.tracker.UpdateGlobalData(p)
	o.savePosition(p)
	data := positionData(p)
	data["profit"] = p.Profit
	o.journal(journal.TypePosition, "closed "+p.String(), data)

	if o.publisher != nil {
		if err := o.publisher.PublishResult(o.ctx, o.cfg.StrategyID, res); err != nil {
			utils.GetLogger().Warnf("Orchestrator | [%s %s] Failed to publish result: %v", o.cfg.Symbol, o.cfg.StrategyID, err)
		}
	}

	err := o.money.CheckThresholds(res, o.tracker.Positions())
	var te *risk.ThresholdError
	if errors.As(err, &te) {
		o.journal(journal.TypeThreshold, te.Error(), map[string]any{"kind": string(te.Kind)})
		o.DisableStrategy(o.ctx, ReasonThreshold, te)
	}
}
