// Package backtest replays historical candles through the same orchestrator
// that runs live strategies.
package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/orchestrator"
	"github.com/amirphl/strategy-engine/internal/performance"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/risk"
	"github.com/amirphl/strategy-engine/internal/strategy"
	"github.com/amirphl/strategy-engine/internal/utils"
)

type Config struct {
	Orchestrator orchestrator.Config
	Simulator    SimulatorConfig
}

// Report is the outcome of one backtest run.
type Report struct {
	StrategyID      string                      `json:"strategy_id"`
	Symbol          string                      `json:"symbol"`
	Timeframe       string                      `json:"timeframe"`
	From            time.Time                   `json:"from"`
	To              time.Time                   `json:"to"`
	StartingBalance float64                     `json:"starting_balance"`
	FinalBalance    float64                     `json:"final_balance"`
	Result          performance.Result          `json:"result"`
	Positions       []position.Position         `json:"positions"`
	Disabled        *orchestrator.DisabledError `json:"-"`
}

// Run replays cfg.Simulator.Candles through strat and returns the report.
func Run(ctx context.Context, cfg Config, strat strategy.Strategy, opts ...orchestrator.Option) (*Report, error) {
	cfg.Simulator.Lots = risk.LotValueConfig{
		AccountCurrency: cfg.Orchestrator.AccountCurrency,
		CrossSymbol:     cfg.Orchestrator.CrossSymbol,
		CrossInverted:   cfg.Orchestrator.CrossInverted,
	}
	sim, err := NewSimulator(cfg.Simulator)
	if err != nil {
		return nil, err
	}
	cfg.Orchestrator.Timeframe = cfg.Simulator.Timeframe
	cfg.Orchestrator.Symbol = cfg.Simulator.Info.Symbol

	opts = append(opts, orchestrator.WithAggregatorOptions(
		candle.WithClock(sim.Now),
		candle.WithoutSessionTimer(),
	))
	orch, err := orchestrator.New(ctx, cfg.Orchestrator, sim, strat, opts...)
	if err != nil {
		return nil, fmt.Errorf("backtest setup failed: %w", err)
	}
	defer orch.Close()
	sim.SessionHook = orch.Aggregator().CheckSession

	started := time.Now()
	if err := sim.Start(ctx); err != nil {
		return nil, fmt.Errorf("backtest interrupted: %w", err)
	}
	utils.GetLogger().Infof("Backtest | [%s %s] Finished in %s", cfg.Simulator.Info.Symbol, orch.ID(), time.Since(started).Round(time.Millisecond))

	candles := cfg.Simulator.Candles
	balance, _ := sim.GetBalance(ctx)
	return &Report{
		StrategyID:      orch.ID(),
		Symbol:          cfg.Simulator.Info.Symbol,
		Timeframe:       cfg.Simulator.Timeframe,
		From:            candles[cfg.Simulator.Warmup].Date,
		To:              candles[len(candles)-1].End(),
		StartingBalance: cfg.Simulator.Balance,
		FinalBalance:    balance.Balance,
		Result:          orch.Tracker().CalculateResults(),
		Positions:       orch.Tracker().Positions(),
		Disabled:        orch.Disabled(),
	}, nil
}

// PrintReport writes a human readable summary.
func PrintReport(w io.Writer, r *Report) {
	res := r.Result
	fmt.Fprintf(w, "Backtest Results (%s, %s %s, %s to %s):\n", r.StrategyID, r.Symbol, r.Timeframe,
		r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	fmt.Fprintf(w, "  Trades=%d, Wins=%d, Losses=%d, WinRate=%.2f%%\n",
		res.TotalPositions, res.PositiveCount, res.NegativeCount, res.WinRate)
	fmt.Fprintf(w, "  Starting Balance=%.2f, Final Balance=%.2f, Profit=%.2f\n",
		r.StartingBalance, r.FinalBalance, res.Profit)
	fmt.Fprintf(w, "  Drawdown=%.2f, MaxConsecWins=%d, MaxConsecLosses=%d\n",
		res.Drawdown, res.MaxConsecutiveWins, res.MaxConsecutiveLosses)
	fmt.Fprintf(w, "  AvgWin=%.2f, AvgLoss=%.2f, AvgRatio=%.2f, ProfitFactor=%.2f\n",
		res.AvgPositive, res.AvgNegative, res.RatioAvgPositiveNegative, res.ProfitFactor)
	if r.Disabled != nil {
		fmt.Fprintf(w, "  Strategy disabled: %v\n", r.Disabled)
	}

	const maxTrades = 10
	for i, p := range r.Positions {
		if i == maxTrades {
			fmt.Fprintf(w, "  ... and %d more trades\n", len(r.Positions)-maxTrades)
			break
		}
		fmt.Fprintf(w, "  Trade %d: %s %.2f Entry=%.5f at %s, Exit=%.5f at %s, PnL=%.2f, Reason=%s\n",
			i+1, p.Direction, p.Volume, p.OpenPrice, p.DateOpen.Format(time.RFC3339),
			p.ClosePrice, p.DateClose.Format(time.RFC3339), p.Profit, p.Comment)
	}
}

// WriteCSV writes one row per closed position.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"Trade#", "ID", "Direction", "Volume", "Entry", "EntryTime", "Exit", "ExitTime", "StopLoss", "TakeProfit", "PnL", "Reason"}}
	for i, p := range r.Positions {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			p.ID,
			string(p.Direction),
			strconv.FormatFloat(p.Volume, 'f', 2, 64),
			strconv.FormatFloat(p.OpenPrice, 'f', -1, 64),
			p.DateOpen.Format(time.RFC3339),
			strconv.FormatFloat(p.ClosePrice, 'f', -1, 64),
			p.DateClose.Format(time.RFC3339),
			strconv.FormatFloat(p.StopLoss, 'f', -1, 64),
			strconv.FormatFloat(p.TakeProfit, 'f', -1, 64),
			strconv.FormatFloat(p.Profit, 'f', 2, 64),
			p.Comment,
		})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing trades csv: %w", err)
	}
	return nil
}

// SaveCSV saves the trade log to filename.
func SaveCSV(filename string, r *Report) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filename, err)
	}
	defer f.Close()

	if err := WriteCSV(f, r); err != nil {
		return err
	}
	utils.GetLogger().Infof("Backtest | Saved %d trades to %s", len(r.Positions), filename)
	return nil
}
