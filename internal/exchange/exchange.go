// Package exchange
package exchange

import (
	"context"
	"errors"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/position"
)

var (
	ErrDisconnected    = errors.New("gateway disconnected")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrUnsupportedSide = errors.New("unsupported position direction")
)

// TickHandler receives price updates of subscribed symbols.
type TickHandler func(market.Tick)

// Handlers receive broker events. Nil fields are ignored.
type Handlers struct {
	OnPositionOpened   func(position.Position)
	OnPositionUpdated  func(position.Position)
	OnPositionRejected func(position.Position)
	OnPositionClosed   func(position.Position)
	OnBalanceChanged   func(market.AccountBalance)
	OnDisconnected     func()
}

// Subscription is a registration that can be torn down. Unsubscribe is
// idempotent.
type Subscription interface {
	Unsubscribe()
}

// Gateway is the broker capability a strategy runs against. Requests only
// acknowledge submission; outcomes arrive through the event handlers.
type Gateway interface {
	candle.HistoryProvider
	position.Requester

	GetSymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error)
	GetBalance(ctx context.Context) (market.AccountBalance, error)
	GetTickPrice(ctx context.Context, symbol string) (market.Tick, error)

	SubscribePrice(symbols []string, fn TickHandler) (Subscription, error)
	SubscribeEvents(h Handlers) (Subscription, error)
}
