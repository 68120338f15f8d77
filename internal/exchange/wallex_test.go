package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/position"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("btc-usdt"))
	assert.Equal(t, "ETHTMN", NormalizeSymbol("ETHTMN"))
}

func TestNormalizedTimeframe(t *testing.T) {
	assert.Equal(t, "1", NormalizedTimeframe("1m"))
	assert.Equal(t, "15", NormalizedTimeframe("15m"))
	assert.Equal(t, "240", NormalizedTimeframe("4h"))
	assert.Equal(t, "1D", NormalizedTimeframe("1d"))
}

func TestRejectedStatus(t *testing.T) {
	for _, s := range []string{"REJECTED", "canceled", "Cancelled", "EXPIRED"} {
		assert.True(t, rejectedStatus(s), s)
	}
	for _, s := range []string{"FILLED", "NEW", ""} {
		assert.False(t, rejectedStatus(s), s)
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failure", func(t *testing.T) {
		calls := 0
		err := retry(context.Background(), 3, time.Millisecond, func() error {
			calls++
			if calls < 2 {
				return errors.New("timeout")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("wraps last error", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := retry(context.Background(), 3, time.Millisecond, func() error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := retry(ctx, 5, time.Hour, func() error {
			calls++
			return errors.New("down")
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestWallexGateway_SymbolInfo(t *testing.T) {
	gw := NewWallexGateway(WallexConfig{
		Paper:   true,
		Symbols: map[string]market.SymbolInfo{"BTCUSDT": {TickSize: 0.01, LotMin: 0.0001}},
	})
	assert.Equal(t, "wallex", gw.Name())

	info, err := gw.GetSymbolInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", info.Symbol)
	assert.Equal(t, 0.01, info.TickSize)

	_, err = gw.GetSymbolInfo(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	hours, err := gw.GetTradingHours(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, hours)
}

func TestWallexGateway_PaperLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := NewWallexGateway(WallexConfig{Paper: true, PollInterval: time.Hour})
	events := make(chan position.Position, 8)
	forward := func(p position.Position) { events <- p }
	sub, err := gw.SubscribeEvents(Handlers{
		OnPositionOpened:  forward,
		OnPositionUpdated: forward,
		OnPositionClosed:  forward,
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	gw.Start(ctx)
	defer gw.Stop()

	next := func() position.Position {
		select {
		case p := <-events:
			return p
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for gateway event")
			return position.Position{}
		}
	}

	err = gw.OpenPosition(ctx, position.Position{ID: "s1", Symbol: "BTCUSDT", Direction: position.Sell, RequestedPrice: 100, Volume: 1})
	require.ErrorIs(t, err, ErrUnsupportedSide)

	pos := position.Position{ID: "b1", Symbol: "BTCUSDT", Direction: position.Buy, RequestedPrice: 100, Volume: 2}
	require.NoError(t, gw.OpenPosition(ctx, pos))
	opened := next()
	assert.Equal(t, position.StatusOpened, opened.Status)
	assert.Equal(t, 100.0, opened.OpenPrice)
	assert.False(t, opened.DateOpen.IsZero())

	pos.StopLoss, pos.TakeProfit = 95, 110
	require.NoError(t, gw.UpdatePosition(ctx, 101, pos))
	updated := next()
	assert.Equal(t, position.StatusUpdated, updated.Status)
	assert.Equal(t, 95.0, updated.StopLoss)

	// A tick inside the band leaves the position open; crossing take profit closes it.
	gw.checkStops(ctx, market.Tick{Symbol: "BTCUSDT", Bid: 105})
	gw.checkStops(ctx, market.Tick{Symbol: "BTCUSDT", Bid: 111})
	closed := next()
	assert.Equal(t, position.StatusClosed, closed.Status)
	assert.Equal(t, 111.0, closed.ClosePrice)
	assert.InDelta(t, 22.0, closed.Profit, 1e-9)

	assert.Error(t, gw.ClosePosition(ctx, 111, pos))
	assert.Error(t, gw.UpdatePosition(ctx, 111, pos))
}
