package tfutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("15m")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	d, err = ParseTimeframe("1d")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	_, err = ParseTimeframe("7m")
	assert.ErrorIs(t, err, ErrUnsupportedTimeframe)
}

func TestBucketStart(t *testing.T) {
	// Wednesday
	ts := time.Date(2024, 5, 15, 13, 47, 12, 0, time.UTC)

	tests := []struct {
		tf       string
		expected time.Time
	}{
		{"1m", time.Date(2024, 5, 15, 13, 47, 0, 0, time.UTC)},
		{"15m", time.Date(2024, 5, 15, 13, 45, 0, 0, time.UTC)},
		{"1h", time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC)},
		{"4h", time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)},
		{"1d", time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)},
		{"1w", time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
		{"1M", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.tf, func(t *testing.T) {
			assert.Equal(t, tt.expected, BucketStart(ts, tt.tf))
		})
	}
}

func TestNextBucketStart(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), NextBucketStart(start, "1M"))
	assert.Equal(t, start.Add(time.Hour), NextBucketStart(start, "1h"))
	assert.True(t, IsIntraday("4h"))
	assert.False(t, IsIntraday("1d"))
}
