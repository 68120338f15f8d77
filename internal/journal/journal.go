package journal

import (
	"context"
	"time"
)

const (
	TypePosition  = "position"
	TypeDisabled  = "strategy_disabled"
	TypeThreshold = "threshold"
	TypeError     = "error"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time      `db:"time" json:"time"`
	StrategyID  string         `db:"strategy_id" json:"strategy_id"`
	Type        string         `db:"type" json:"type"`
	Description string         `db:"description" json:"description"`
	Data        map[string]any `db:"-" json:"data,omitempty"`
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
