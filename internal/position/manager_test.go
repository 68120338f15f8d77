package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/strategy-engine/internal/market"
)

type fakeRequester struct {
	mu       sync.Mutex
	openErr  error
	closeErr error
	opens    []Position
	updates  []Position
	closes   []Position
}

func (f *fakeRequester) OpenPosition(ctx context.Context, pos Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, pos)
	return f.openErr
}

func (f *fakeRequester) UpdatePosition(ctx context.Context, price float64, pos Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, pos)
	return nil
}

func (f *fakeRequester) ClosePosition(ctx context.Context, price float64, pos Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, pos)
	return f.closeErr
}

type events struct {
	opened, rejected, updated, closed []Position
}

func newTestManager(req *fakeRequester) (*Manager, *events) {
	info := market.SymbolInfo{Symbol: "EURUSD", Category: market.CategoryForex, TickSize: 0.00001, ContractSize: 100000, LotMin: 0.01, LotMax: 100}
	tick := market.Tick{Symbol: "EURUSD", Bid: 1.10000, Ask: 1.10002, Date: time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)}
	m := NewManager(Config{StrategyID: "s1", Info: info, DefaultStopLossPips: 200, DefaultTakeProfitPips: 400}, req, func() market.Tick { return tick })
	ev := &events{}
	m.SetHandlers(Handlers{
		OnOpened:   func(p Position) { ev.opened = append(ev.opened, p) },
		OnRejected: func(p Position) { ev.rejected = append(ev.rejected, p) },
		OnUpdated:  func(p Position) { ev.updated = append(ev.updated, p) },
		OnClosed:   func(p Position) { ev.closed = append(ev.closed, p) },
	})
	return m, ev
}

func TestManager_OpenDefaultsAndGuard(t *testing.T) {
	req := &fakeRequester{}
	m, _ := newTestManager(req)

	pos, err := m.OpenAsync(context.Background(), "EURUSD", Buy, 0.5, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, StatusPending, pos.Status)
	assert.Equal(t, 1.10002, pos.RequestedPrice)
	assert.InDelta(t, 1.09802, pos.StopLoss, 1e-9)
	assert.InDelta(t, 1.10402, pos.TakeProfit, 1e-9)
	assert.True(t, m.InProgress())

	_, err = m.OpenAsync(context.Background(), "EURUSD", Buy, 0.5, 0, 0)
	assert.ErrorIs(t, err, ErrPositionInProgress)
	assert.Len(t, req.opens, 1)

	_, err = m.OpenAsync(context.Background(), "EURUSD", Direction("hold"), 0.5, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestManager_OpenFailureClearsPending(t *testing.T) {
	req := &fakeRequester{openErr: errors.New("connection reset")}
	m, _ := newTestManager(req)

	_, err := m.OpenAsync(context.Background(), "EURUSD", Sell, 1, 1.2, 1.0)
	require.Error(t, err)
	assert.False(t, m.InProgress())
	_, ok := m.Pending()
	assert.False(t, ok)
}

func TestManager_Rejection(t *testing.T) {
	t.Run("non matching id is ignored", func(t *testing.T) {
		m, ev := newTestManager(&fakeRequester{})
		pos, err := m.OpenAsync(context.Background(), "EURUSD", Buy, 1, 0, 0)
		require.NoError(t, err)

		assert.False(t, m.HandleRejected(Position{ID: "other"}))
		pending, ok := m.Pending()
		require.True(t, ok)
		assert.Equal(t, pos.ID, pending.ID)
		assert.Empty(t, ev.rejected)
	})

	t.Run("matching id clears pending once", func(t *testing.T) {
		m, ev := newTestManager(&fakeRequester{})
		pos, err := m.OpenAsync(context.Background(), "EURUSD", Buy, 1, 0, 0)
		require.NoError(t, err)

		assert.True(t, m.HandleRejected(Position{ID: pos.ID, Comment: "market closed"}))
		assert.False(t, m.HandleRejected(Position{ID: pos.ID}))
		assert.False(t, m.InProgress())
		require.Len(t, ev.rejected, 1)
		assert.Equal(t, StatusRejected, ev.rejected[0].Status)
		assert.Equal(t, "market closed", ev.rejected[0].Comment)
	})
}

func TestManager_Lifecycle(t *testing.T) {
	req := &fakeRequester{}
	m, ev := newTestManager(req)
	ctx := context.Background()

	pos, err := m.OpenAsync(ctx, "EURUSD", Buy, 1, 1.09, 1.12)
	require.NoError(t, err)

	assert.False(t, m.HandleOpened(Position{ID: "unknown"}))
	filled := pos
	filled.OpenPrice = 1.10003
	require.True(t, m.HandleOpened(filled))
	require.Len(t, ev.opened, 1)

	opened, ok := m.Opened()
	require.True(t, ok)
	assert.Equal(t, StatusOpened, opened.Status)
	assert.Equal(t, "s1", opened.StrategyID)

	t.Run("update is a no-op when stops are unchanged", func(t *testing.T) {
		same := opened
		same.StopLoss = 1.090000001
		require.NoError(t, m.UpdateAsync(ctx, same))
		assert.Empty(t, req.updates)
	})

	t.Run("update rounds to symbol precision", func(t *testing.T) {
		moved := opened
		moved.StopLoss = 1.0950049
		require.NoError(t, m.UpdateAsync(ctx, moved))
		require.Len(t, req.updates, 1)
		assert.Equal(t, 1.095, req.updates[0].StopLoss)

		require.True(t, m.HandleUpdated(req.updates[0]))
		cur, _ := m.Opened()
		assert.Equal(t, 1.095, cur.StopLoss)
		assert.Equal(t, StatusUpdated, cur.Status)
	})

	t.Run("close is idempotent and confirmed by event", func(t *testing.T) {
		require.NoError(t, m.CloseAsync(ctx, opened))
		require.NoError(t, m.CloseAsync(ctx, opened))
		assert.Len(t, req.closes, 1)
		assert.True(t, m.InProgress(), "open slot released only by the closed event")

		moved := opened
		moved.StopLoss = 1.08
		require.NoError(t, m.UpdateAsync(ctx, moved))
		assert.Len(t, req.updates, 1, "no update while closing")

		closed := opened
		closed.Profit = 12.5
		require.True(t, m.HandleClosed(closed))
		assert.False(t, m.InProgress())
		require.Len(t, ev.closed, 1)
		assert.Equal(t, StatusClosed, ev.closed[0].Status)
		assert.ErrorIs(t, m.CloseAsync(ctx, opened), ErrUnknownPosition)
	})
}

func TestManager_CloseFailureKeepsPositionOpen(t *testing.T) {
	req := &fakeRequester{closeErr: errors.New("timeout")}
	m, _ := newTestManager(req)
	ctx := context.Background()

	pos, err := m.OpenAsync(ctx, "EURUSD", Sell, 1, 0, 0)
	require.NoError(t, err)
	require.True(t, m.HandleOpened(pos))

	require.Error(t, m.CloseAsync(ctx, pos))
	opened, ok := m.Opened()
	require.True(t, ok)
	assert.Equal(t, StatusOpened, opened.Status)

	req.closeErr = nil
	require.NoError(t, m.CloseAsync(ctx, pos))
	assert.Len(t, req.closes, 2)
}
