package market

import (
	"sort"
	"time"
)

// TradeHourRecord is one trading session of a weekday. From and To are
// offsets from midnight UTC; the session is [From, To).
type TradeHourRecord struct {
	Day  time.Weekday  `json:"day" yaml:"day"`
	From time.Duration `json:"from" yaml:"from"`
	To   time.Duration `json:"to" yaml:"to"`
}

// TradeHours lists the weekly trading sessions of a symbol. An empty list
// means the symbol trades around the clock.
type TradeHours []TradeHourRecord

func (h TradeHours) AlwaysOpen() bool { return len(h) == 0 }

// IsOpen reports whether t falls inside a trading session.
func (h TradeHours) IsOpen(t time.Time) bool {
	if h.AlwaysOpen() {
		return true
	}
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := t.Sub(midnight)
	for _, r := range h {
		if r.Day == t.Weekday() && offset >= r.From && offset < r.To {
			return true
		}
	}
	return false
}

// session returns the sessions of the given day sorted by start.
func (h TradeHours) session(day time.Weekday) []TradeHourRecord {
	var out []TradeHourRecord
	for _, r := range h {
		if r.Day == day {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// NextOpen returns t if the market is open at t, otherwise the start of the
// next session. ok is false when no session exists in the following week.
func (h TradeHours) NextOpen(t time.Time) (time.Time, bool) {
	if h.AlwaysOpen() {
		return t, true
	}
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i <= 7; i++ {
		day := midnight.AddDate(0, 0, i)
		for _, r := range h.session(day.Weekday()) {
			start, end := day.Add(r.From), day.Add(r.To)
			if !t.Before(start) && t.Before(end) {
				return t, true
			}
			if !start.Before(t) {
				return start, true
			}
		}
	}
	return time.Time{}, false
}

// NextClose returns the end of the session containing t, or the end of the
// next session when the market is closed at t.
func (h TradeHours) NextClose(t time.Time) (time.Time, bool) {
	if h.AlwaysOpen() {
		return time.Time{}, false
	}
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i <= 7; i++ {
		day := midnight.AddDate(0, 0, i)
		for _, r := range h.session(day.Weekday()) {
			end := day.Add(r.To)
			if end.After(t) {
				return end, true
			}
		}
	}
	return time.Time{}, false
}
