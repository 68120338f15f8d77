package tfutils

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration.
// Weekly and monthly timeframes are nominal durations; use BucketStart for alignment.
func ParseTimeframe(timeframe string) (time.Duration, error) {
	m := TimeframeMinutes(timeframe)
	if m == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, timeframe)
	}
	return time.Duration(m) * time.Minute, nil
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	d, _ := ParseTimeframe(timeframe)
	return d
}

func TimeframeMinutes(timeframe string) int {
	switch timeframe {
	case "1m":
		return 1
	case "5m":
		return 5
	case "15m":
		return 15
	case "30m":
		return 30
	case "1h":
		return 60
	case "4h":
		return 4 * 60
	case "1d":
		return 24 * 60
	case "1w":
		return 7 * 24 * 60
	case "1M":
		return 30 * 24 * 60
	default:
		return 0
	}
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w", "1M"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return TimeframeMinutes(timeframe) > 0
}

// IsIntraday reports whether the timeframe is shorter than a day.
func IsIntraday(timeframe string) bool {
	m := TimeframeMinutes(timeframe)
	return m > 0 && m < 24*60
}

// BucketStart returns the start of the bucket containing t, in UTC.
// Days start at midnight, weeks on Monday and months on the 1st. Intraday
// buckets are floor(minutesSinceMidnight / period) within the day.
func BucketStart(t time.Time, timeframe string) time.Time {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch timeframe {
	case "1d":
		return midnight
	case "1w":
		offset := (int(midnight.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset)
	case "1M":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	period := TimeframeMinutes(timeframe)
	if period == 0 {
		return t
	}
	minutes := t.Hour()*60 + t.Minute()
	return midnight.Add(time.Duration(minutes/period*period) * time.Minute)
}

// NextBucketStart returns the start of the bucket following the one starting at start.
func NextBucketStart(start time.Time, timeframe string) time.Time {
	switch timeframe {
	case "1w":
		return start.AddDate(0, 0, 7)
	case "1M":
		return start.AddDate(0, 1, 0)
	}
	return start.Add(GetTimeframeDuration(timeframe))
}
