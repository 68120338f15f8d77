package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/config"
	"github.com/amirphl/strategy-engine/internal/db"
	"github.com/amirphl/strategy-engine/internal/performance"
)

func TestLoadBacktestCandles_ResamplesStoredMinutes(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	start := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

	var rows []db.Candle
	for i := 0; i < 10; i++ {
		p := 1.1 + float64(i)*0.001
		rows = append(rows, db.Candle{Symbol: "EURUSD", Timeframe: "1m", Timestamp: start.Add(time.Duration(i) * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: 1})
	}
	require.NoError(t, storage.SaveCandles(ctx, rows))

	cfg := config.Default()
	cfg.Timeframe = "5m"
	cfg.Backtest.From, cfg.Backtest.To = start, start.Add(time.Hour)

	candles, err := loadBacktestCandles(ctx, cfg, storage)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "5m", candles[0].Timeframe)
	assert.Equal(t, 5.0, candles[0].Volume)
	assert.InDelta(t, 1.104, candles[0].Close, 1e-9)
}

func TestCandleRecorder_SavesClosedCandles(t *testing.T) {
	ctx := context.Background()
	storage := db.NewMemory()
	rec := &candleRecorder{storage: storage}
	at := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, rec.PublishCandle(ctx, candle.Candle{Symbol: "EURUSD", Timeframe: "1m", Date: at, Open: 1, High: 1, Low: 1, Close: 1}))
	require.NoError(t, rec.PublishResult(ctx, "s1", performance.Result{}))

	got, err := storage.GetCandles(ctx, "EURUSD", "1m", at, at)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
