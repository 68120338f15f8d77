// Package db persists positions, journal events and candles.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/strategy-engine/internal/journal"
	"github.com/amirphl/strategy-engine/internal/position"
)

var ErrInvalidCandle = errors.New("invalid candle")

// Storage is the interface for all persistent storage.
type Storage interface {
	journal.Journaler

	SavePosition(ctx context.Context, pos position.Position) error
	GetPositions(ctx context.Context, strategyID string) ([]position.Position, error)

	SaveCandles(ctx context.Context, candles []Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error)

	Close() error
}

// Candle is the stored form of a closed candle.
type Candle struct {
	Symbol    string    `db:"symbol"`
	Timeframe string    `db:"timeframe"`
	Timestamp time.Time `db:"timestamp"`
	Open      float64   `db:"open"`
	High      float64   `db:"high"`
	Low       float64   `db:"low"`
	Close     float64   `db:"close"`
	Volume    float64   `db:"volume"`
}

func (c Candle) Validate() error {
	switch {
	case c.Symbol == "" || c.Timeframe == "":
		return fmt.Errorf("%w: missing symbol or timeframe", ErrInvalidCandle)
	case c.Timestamp.IsZero():
		return fmt.Errorf("%w: zero timestamp", ErrInvalidCandle)
	case c.High < c.Low || c.High < max(c.Open, c.Close) || c.Low > min(c.Open, c.Close):
		return fmt.Errorf("%w: high/low do not bound open/close", ErrInvalidCandle)
	case c.Volume < 0:
		return fmt.Errorf("%w: negative volume", ErrInvalidCandle)
	}
	return nil
}

// positionRow mirrors the positions table.
type positionRow struct {
	ID             string     `db:"id"`
	StrategyID     string     `db:"strategy_id"`
	Symbol         string     `db:"symbol"`
	Direction      string     `db:"direction"`
	RequestedPrice float64    `db:"requested_price"`
	OpenPrice      float64    `db:"open_price"`
	ClosePrice     float64    `db:"close_price"`
	StopLoss       float64    `db:"stop_loss"`
	TakeProfit     float64    `db:"take_profit"`
	Volume         float64    `db:"volume"`
	Profit         float64    `db:"profit"`
	DateOpen       *time.Time `db:"date_open"`
	DateClose      *time.Time `db:"date_close"`
	Status         string     `db:"status"`
	Comment        string     `db:"comment"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func toPositionRow(p position.Position) positionRow {
	return positionRow{
		ID:             p.ID,
		StrategyID:     p.StrategyID,
		Symbol:         strings.ToUpper(p.Symbol),
		Direction:      string(p.Direction),
		RequestedPrice: p.RequestedPrice,
		OpenPrice:      p.OpenPrice,
		ClosePrice:     p.ClosePrice,
		StopLoss:       p.StopLoss,
		TakeProfit:     p.TakeProfit,
		Volume:         p.Volume,
		Profit:         p.Profit,
		DateOpen:       timePtr(p.DateOpen),
		DateClose:      timePtr(p.DateClose),
		Status:         string(p.Status),
		Comment:        p.Comment,
	}
}

func (r positionRow) position() position.Position {
	return position.Position{
		ID:             r.ID,
		StrategyID:     r.StrategyID,
		Symbol:         r.Symbol,
		Direction:      position.Direction(r.Direction),
		RequestedPrice: r.RequestedPrice,
		OpenPrice:      r.OpenPrice,
		ClosePrice:     r.ClosePrice,
		StopLoss:       r.StopLoss,
		TakeProfit:     r.TakeProfit,
		Volume:         r.Volume,
		Profit:         r.Profit,
		DateOpen:       timeVal(r.DateOpen),
		DateClose:      timeVal(r.DateClose),
		Status:         position.Status(r.Status),
		Comment:        r.Comment,
	}
}

type eventRow struct {
	Time        time.Time `db:"time"`
	StrategyID  string    `db:"strategy_id"`
	Type        string    `db:"type"`
	Description string    `db:"description"`
	Data        string    `db:"data"`
}
