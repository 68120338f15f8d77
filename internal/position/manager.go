package position

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/utils"
)

var (
	ErrPositionInProgress = errors.New("a position is already pending or open")
	ErrUnknownPosition    = errors.New("position is not the open position")
	ErrInvalidRequest     = errors.New("invalid position request")
)

// Requester forwards position requests to the broker. Completion is reported
// back asynchronously through the Handle* methods.
type Requester interface {
	OpenPosition(ctx context.Context, pos Position) error
	UpdatePosition(ctx context.Context, price float64, pos Position) error
	ClosePosition(ctx context.Context, price float64, pos Position) error
}

// Handlers are notified after a confirmed transition, outside the manager lock.
type Handlers struct {
	OnOpened   func(Position)
	OnRejected func(Position)
	OnUpdated  func(Position)
	OnClosed   func(Position)
}

type Config struct {
	StrategyID            string
	Info                  market.SymbolInfo
	DefaultStopLossPips   float64
	DefaultTakeProfitPips float64
}

// Manager tracks at most one pending and one open position of a strategy.
type Manager struct {
	mu sync.Mutex

	cfg       Config
	requester Requester
	lastTick  func() market.Tick
	precision int32

	pending  *Position
	opened   *Position
	handlers Handlers
}

// NewManager creates a manager. lastTick supplies the current price used for
// default stops and request prices.
func NewManager(cfg Config, requester Requester, lastTick func() market.Tick) *Manager {
	return &Manager{
		cfg:       cfg,
		requester: requester,
		lastTick:  lastTick,
		precision: int32(cfg.Info.Precision()),
	}
}

func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	m.handlers = h
	m.mu.Unlock()
}

// InProgress reports whether a position is pending or open.
func (m *Manager) InProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil || m.opened != nil
}

func (m *Manager) Pending() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Position{}, false
	}
	return *m.pending, true
}

func (m *Manager) Opened() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened == nil {
		return Position{}, false
	}
	return *m.opened, true
}

// Round rounds a price to the symbol precision.
func (m *Manager) Round(price float64) float64 {
	if price == 0 {
		return 0
	}
	return decimal.NewFromFloat(price).Round(m.precision).InexactFloat64()
}

// DefaultStopLoss is the configured pip distance below (Buy) or above (Sell) price.
func (m *Manager) DefaultStopLoss(dir Direction, price float64) float64 {
	if m.cfg.DefaultStopLossPips <= 0 {
		return 0
	}
	return m.Round(price - dir.Sign()*m.cfg.DefaultStopLossPips*m.cfg.Info.TickSize)
}

func (m *Manager) DefaultTakeProfit(dir Direction, price float64) float64 {
	if m.cfg.DefaultTakeProfitPips <= 0 {
		return 0
	}
	return m.Round(price + dir.Sign()*m.cfg.DefaultTakeProfitPips*m.cfg.Info.TickSize)
}

// EntryPrice is the price a new position in dir would be requested at.
func EntryPrice(dir Direction, t market.Tick) float64 {
	if dir == Sell {
		return t.Bid
	}
	return t.AskOrBid()
}

// exitPrice is the price an open position in dir would be closed at.
func exitPrice(dir Direction, t market.Tick) float64 {
	if dir == Sell {
		return t.AskOrBid()
	}
	return t.Bid
}

// OpenAsync registers a pending position and forwards the open request. The
// pending slot is released again if the request fails.
func (m *Manager) OpenAsync(ctx context.Context, symbol string, dir Direction, volume, sl, tp float64) (Position, error) {
	if !dir.Valid() || volume <= 0 {
		return Position{}, fmt.Errorf("%w: direction=%q volume=%g", ErrInvalidRequest, dir, volume)
	}

	m.mu.Lock()
	if m.pending != nil || m.opened != nil {
		m.mu.Unlock()
		return Position{}, ErrPositionInProgress
	}
	tick := m.lastTick()
	price := EntryPrice(dir, tick)
	if sl == 0 {
		sl = m.DefaultStopLoss(dir, price)
	}
	if tp == 0 {
		tp = m.DefaultTakeProfit(dir, price)
	}
	pos := Position{
		ID:             uuid.NewString(),
		StrategyID:     m.cfg.StrategyID,
		Symbol:         symbol,
		Direction:      dir,
		RequestedPrice: price,
		StopLoss:       m.Round(sl),
		TakeProfit:     m.Round(tp),
		Volume:         volume,
		DateOpen:       tick.Date,
		Status:         StatusPending,
	}
	pending := pos
	m.pending = &pending
	m.mu.Unlock()

	if err := m.requester.OpenPosition(ctx, pos); err != nil {
		m.mu.Lock()
		if m.pending != nil && m.pending.ID == pos.ID {
			m.pending = nil
		}
		m.mu.Unlock()
		utils.GetLogger().Warnf("Position | [%s %s] Open request failed: %v", symbol, m.cfg.StrategyID, err)
		return Position{}, fmt.Errorf("open request failed: %w", err)
	}
	return pos, nil
}

// HandleOpened promotes the pending position when ids match.
func (m *Manager) HandleOpened(p Position) bool {
	m.mu.Lock()
	if m.pending == nil || m.pending.ID != p.ID {
		m.mu.Unlock()
		return false
	}
	opened := p
	opened.StrategyID = m.pending.StrategyID
	opened.Status = StatusOpened
	m.opened = &opened
	m.pending = nil
	h := m.handlers
	m.mu.Unlock()

	utils.GetLogger().Infof("Position | [%s %s] Opened %s", opened.Symbol, opened.StrategyID, opened)
	if h.OnOpened != nil {
		h.OnOpened(opened)
	}
	return true
}

// HandleRejected clears the pending position when ids match.
func (m *Manager) HandleRejected(p Position) bool {
	m.mu.Lock()
	if m.pending == nil || m.pending.ID != p.ID {
		m.mu.Unlock()
		return false
	}
	rejected := *m.pending
	rejected.Status = StatusRejected
	rejected.Comment = p.Comment
	m.pending = nil
	h := m.handlers
	m.mu.Unlock()

	utils.GetLogger().Warnf("Position | [%s %s] Rejected %s: %s", rejected.Symbol, rejected.StrategyID, rejected.ID, rejected.Comment)
	if h.OnRejected != nil {
		h.OnRejected(rejected)
	}
	return true
}

// HandleUpdated applies confirmed stop changes to the open position.
func (m *Manager) HandleUpdated(p Position) bool {
	m.mu.Lock()
	if m.opened == nil || m.opened.ID != p.ID {
		m.mu.Unlock()
		return false
	}
	m.opened.StopLoss = p.StopLoss
	m.opened.TakeProfit = p.TakeProfit
	if m.opened.Status != StatusClosing {
		m.opened.Status = StatusUpdated
	}
	updated := *m.opened
	h := m.handlers
	m.mu.Unlock()

	if h.OnUpdated != nil {
		h.OnUpdated(updated)
	}
	return true
}

// HandleClosed releases the open position when ids match.
func (m *Manager) HandleClosed(p Position) bool {
	m.mu.Lock()
	var strategyID string
	switch {
	case m.opened != nil && m.opened.ID == p.ID:
		strategyID = m.opened.StrategyID
		m.opened = nil
	case m.pending != nil && m.pending.ID == p.ID:
		strategyID = m.pending.StrategyID
		m.pending = nil
	default:
		m.mu.Unlock()
		return false
	}
	closed := p
	closed.StrategyID = strategyID
	closed.Status = StatusClosed
	h := m.handlers
	m.mu.Unlock()

	utils.GetLogger().Infof("Position | [%s %s] Closed %s profit=%.2f", closed.Symbol, closed.StrategyID, closed.ID, closed.Profit)
	if h.OnClosed != nil {
		h.OnClosed(closed)
	}
	return true
}

// UpdateAsync forwards new stops for the open position. It does nothing when
// the rounded stops are unchanged or a close is already in flight.
func (m *Manager) UpdateAsync(ctx context.Context, p Position) error {
	m.mu.Lock()
	if m.opened == nil || m.opened.ID != p.ID {
		m.mu.Unlock()
		return ErrUnknownPosition
	}
	if m.opened.Status == StatusClosing {
		m.mu.Unlock()
		return nil
	}
	sl, tp := m.Round(p.StopLoss), m.Round(p.TakeProfit)
	if sl == m.opened.StopLoss && tp == m.opened.TakeProfit {
		m.mu.Unlock()
		return nil
	}
	req := *m.opened
	req.StopLoss, req.TakeProfit = sl, tp
	price := exitPrice(req.Direction, m.lastTick())
	m.mu.Unlock()

	if err := m.requester.UpdatePosition(ctx, price, req); err != nil {
		return fmt.Errorf("update request failed: %w", err)
	}
	return nil
}

// CloseAsync requests closing the open position. The open slot is released
// only by HandleClosed; a failed request leaves the position open for retry.
func (m *Manager) CloseAsync(ctx context.Context, p Position) error {
	m.mu.Lock()
	if m.opened == nil || m.opened.ID != p.ID {
		m.mu.Unlock()
		return ErrUnknownPosition
	}
	if m.opened.Status == StatusClosing {
		m.mu.Unlock()
		return nil
	}
	prev := m.opened.Status
	m.opened.Status = StatusClosing
	req := *m.opened
	price := exitPrice(req.Direction, m.lastTick())
	m.mu.Unlock()

	if err := m.requester.ClosePosition(ctx, price, req); err != nil {
		m.mu.Lock()
		if m.opened != nil && m.opened.ID == req.ID && m.opened.Status == StatusClosing {
			m.opened.Status = prev
		}
		m.mu.Unlock()
		return fmt.Errorf("close request failed: %w", err)
	}
	return nil
}
