// Package indicator
package indicator

import (
	"errors"

	"github.com/amirphl/strategy-engine/internal/candle"
)

var ErrInsufficientData = errors.New("insufficient data")

// Indicator is a stateful technical indicator recomputed from a candle window.
// Update receives an immutable snapshot and may run concurrently with other
// indicators; it must not depend on them.
type Indicator interface {
	Name() string
	Update(candles []candle.Candle) error
}
