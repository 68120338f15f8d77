// Package market
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single bid/ask price update.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask,omitempty"` // zero when the feed carries no ask
	AskVolume float64   `json:"ask_volume"`
	BidVolume float64   `json:"bid_volume"`
	Date      time.Time `json:"date"`
}

// Spread returns ask - bid, or 0 when the tick has no ask.
func (t Tick) Spread() float64 {
	if t.Ask == 0 {
		return 0
	}
	return t.Ask - t.Bid
}

// Price is the reference price used for candle building.
func (t Tick) Price() float64 { return t.Bid }

// AskOrBid returns the ask, falling back to the bid when the ask is absent.
func (t Tick) AskOrBid() float64 {
	if t.Ask == 0 {
		return t.Bid
	}
	return t.Ask
}

type Category string

const (
	CategoryForex   Category = "FX"
	CategoryIndices Category = "IND"
	CategoryOther   Category = "OTHER"
)

// SymbolInfo holds contract metadata of a tradable symbol.
type SymbolInfo struct {
	Symbol         string   `json:"symbol" yaml:"symbol"`
	Category       Category `json:"category" yaml:"category"`
	TickSize       float64  `json:"tick_size" yaml:"tick_size"`
	ContractSize   float64  `json:"contract_size" yaml:"contract_size"`
	LotMin         float64  `json:"lot_min" yaml:"lot_min"`
	LotMax         float64  `json:"lot_max" yaml:"lot_max"`
	Leverage       float64  `json:"leverage" yaml:"leverage"`
	Currency       string   `json:"currency" yaml:"currency"`
	CurrencyProfit string   `json:"currency_profit" yaml:"currency_profit"`
}

// Precision returns the number of significant fractional digits of the tick size.
func (s SymbolInfo) Precision() int {
	if s.TickSize <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(s.TickSize).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// AccountBalance is a balance snapshot, replaced wholesale on each balance event.
type AccountBalance struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	MarginFree  float64 `json:"margin_free"`
	MarginLevel float64 `json:"margin_level"`
	Credit      float64 `json:"credit"`
}
