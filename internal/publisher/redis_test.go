package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/performance"
)

func setupRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisConfig{Addr: addr, Prefix: fmt.Sprintf("test-%d:", time.Now().UnixNano())})
	if err != nil {
		t.Skipf("Skipping test: Redis is not running or not accessible: %v", err)
	}
	t.Cleanup(func() {
		keys, _ := r.client.Keys(ctx, r.prefix+"*").Result()
		if len(keys) > 0 {
			r.client.Del(ctx, keys...)
		}
		r.Close()
	})
	return r
}

func TestRedis_Channels(t *testing.T) {
	r := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "", 0)
	defer r.Close()
	assert.Equal(t, "strategy-engine:result:s1", r.ResultKey("s1"))
	assert.Equal(t, "strategy-engine:results", r.ResultsChannel())
	assert.Equal(t, "strategy-engine:candles:EURUSD:5m", r.CandleChannel("eurusd", "5m"))
}

func TestRedis_PublishResult(t *testing.T) {
	r := setupRedis(t)
	ctx := context.Background()

	sub := r.client.Subscribe(ctx, r.ResultsChannel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	res := performance.Result{Profit: 120.5, TotalPositions: 3, PositiveCount: 2, WinRate: 66.67}
	require.NoError(t, r.PublishResult(ctx, "s1", res))

	got, err := r.LatestResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, res, got)

	select {
	case msg := <-sub.Channel():
		var m resultMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &m))
		assert.Equal(t, "s1", m.StrategyID)
		assert.Equal(t, res, m.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("no result message received")
	}

	_, err = r.LatestResult(ctx, "missing")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedis_PublishCandle(t *testing.T) {
	r := setupRedis(t)
	ctx := context.Background()

	sub := r.client.Subscribe(ctx, r.CandleChannel("EURUSD", "1m"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	c := candle.Candle{Symbol: "EURUSD", Timeframe: "1m", Date: time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC), Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15}
	require.NoError(t, r.PublishCandle(ctx, c))

	select {
	case msg := <-sub.Channel():
		var got candle.Candle
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, c.Close, got.Close)
		assert.True(t, c.Date.Equal(got.Date))
	case <-time.After(2 * time.Second):
		t.Fatal("no candle message received")
	}
}
