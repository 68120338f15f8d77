package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/strategy-engine/internal/db/conf"
	"github.com/amirphl/strategy-engine/internal/journal"
	"github.com/amirphl/strategy-engine/internal/position"
)

var base = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	cfg, cleanup := conf.NewTestConfig(t)
	t.Cleanup(cleanup)

	p := NewPostgres(cfg.DB)
	require.NoError(t, p.Migrate(context.Background(), cfg.SchemaSQL))
	return p
}

func storages(t *testing.T) map[string]func(t *testing.T) Storage {
	return map[string]func(t *testing.T) Storage{
		"memory":   func(t *testing.T) Storage { return NewMemory() },
		"postgres": func(t *testing.T) Storage { return setupPostgres(t) },
	}
}

func TestStorage_Positions(t *testing.T) {
	for name, open := range storages(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			p := position.Position{
				ID: "p1", StrategyID: "s1", Symbol: "eurusd", Direction: position.Buy,
				Volume: 0.5, StopLoss: 1.098, TakeProfit: 1.105, Status: position.StatusPending,
			}
			require.NoError(t, s.SavePosition(ctx, p))

			p.Status = position.StatusClosed
			p.OpenPrice, p.ClosePrice, p.Profit = 1.1, 1.105, 250
			p.DateOpen, p.DateClose = base, base.Add(time.Hour)
			p.Comment = "take profit"
			require.NoError(t, s.SavePosition(ctx, p))
			require.NoError(t, s.SavePosition(ctx, position.Position{
				ID: "p2", StrategyID: "other", Symbol: "EURUSD", Direction: position.Sell, Volume: 1, Status: position.StatusOpened,
			}))

			got, err := s.GetPositions(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "EURUSD", got[0].Symbol)
			assert.Equal(t, position.StatusClosed, got[0].Status)
			assert.Equal(t, 250.0, got[0].Profit)
			assert.True(t, base.Equal(got[0].DateOpen))
			assert.Equal(t, "take profit", got[0].Comment)

			none, err := s.GetPositions(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStorage_Events(t *testing.T) {
	for name, open := range storages(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			require.NoError(t, s.LogEvent(ctx, journal.Event{
				Time: base.Add(time.Minute), StrategyID: "s1", Type: journal.TypeDisabled,
				Description: "disabled", Data: map[string]any{"reason": "threshold"},
			}))
			require.NoError(t, s.LogEvent(ctx, journal.Event{Time: base, StrategyID: "s1", Type: journal.TypeDisabled}))
			require.NoError(t, s.LogEvent(ctx, journal.Event{Time: base, StrategyID: "s1", Type: journal.TypePosition}))

			events, err := s.GetEvents(ctx, journal.TypeDisabled, base, base.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.True(t, base.Equal(events[0].Time))
			assert.Equal(t, "threshold", events[1].Data["reason"])

			events, err = s.GetEvents(ctx, journal.TypeDisabled, base.Add(30*time.Second), base.Add(time.Hour))
			require.NoError(t, err)
			assert.Len(t, events, 1)
		})
	}
}

func TestStorage_Candles(t *testing.T) {
	for name, open := range storages(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			candles := []Candle{
				{Symbol: "eurusd", Timeframe: "1m", Timestamp: base.Add(time.Minute), Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15},
				{Symbol: "EURUSD", Timeframe: "1m", Timestamp: base, Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1},
				{Symbol: "EURUSD", Timeframe: "5m", Timestamp: base, Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1},
			}
			require.NoError(t, s.SaveCandles(ctx, candles))

			// upsert
			candles[1].Close, candles[1].High = 1.12, 1.12
			require.NoError(t, s.SaveCandles(ctx, candles[1:2]))

			got, err := s.GetCandles(ctx, "EURUSD", "1m", base, base.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.True(t, base.Equal(got[0].Timestamp))
			assert.Equal(t, 1.12, got[0].Close)
			assert.Equal(t, "EURUSD", got[1].Symbol)

			bad := Candle{Symbol: "EURUSD", Timeframe: "1m", Timestamp: base, Open: 1, High: 0.5, Low: 1, Close: 1}
			assert.ErrorIs(t, s.SaveCandles(ctx, []Candle{bad}), ErrInvalidCandle)
		})
	}
}

func TestPostgres_TransactionFromContext(t *testing.T) {
	p := setupPostgres(t)
	ctx := context.Background()

	tx, err := p.DB().BeginTxx(ctx, nil)
	require.NoError(t, err)
	txCtx := WithTransaction(ctx, tx)
	require.NoError(t, p.SavePosition(txCtx, position.Position{ID: "tx", StrategyID: "s1", Symbol: "EURUSD", Direction: position.Buy, Volume: 1, Status: position.StatusOpened}))

	inTx, err := p.GetPositions(txCtx, "s1")
	require.NoError(t, err)
	assert.Len(t, inTx, 1)

	require.NoError(t, tx.Rollback())
	after, err := p.GetPositions(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, after)
}
