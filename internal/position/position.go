// Package position
package position

import (
	"fmt"
	"time"
)

type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Sign is +1 for Buy and -1 for Sell.
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

func (d Direction) Valid() bool { return d == Buy || d == Sell }

type Status string

const (
	StatusPending  Status = "pending"
	StatusOpened   Status = "opened"
	StatusUpdated  Status = "updated"
	StatusClosing  Status = "closing"
	StatusRejected Status = "rejected"
	StatusClosed   Status = "closed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusClosed
}

// Position is one open request and its lifecycle. Copies share no mutable state.
type Position struct {
	ID             string    `json:"id"`
	StrategyID     string    `json:"strategy_id"`
	Symbol         string    `json:"symbol"`
	Direction      Direction `json:"direction"`
	RequestedPrice float64   `json:"requested_price"`
	OpenPrice      float64   `json:"open_price"`
	ClosePrice     float64   `json:"close_price"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	Volume         float64   `json:"volume"`
	Profit         float64   `json:"profit"`
	DateOpen       time.Time `json:"date_open"`
	DateClose      time.Time `json:"date_close"`
	Status         Status    `json:"status"`
	Comment        string    `json:"comment,omitempty"`
}

func (p Position) Clone() Position { return p }

func (p Position) String() string {
	return fmt.Sprintf("%s %s %s vol=%.2f sl=%g tp=%g status=%s", p.ID, p.Symbol, p.Direction, p.Volume, p.StopLoss, p.TakeProfit, p.Status)
}
