// Package publisher pushes live strategy state to Redis.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/performance"
	"github.com/amirphl/strategy-engine/internal/utils"
)

const defaultPrefix = "strategy-engine:"

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	// ResultTTL expires result snapshots; zero keeps them.
	ResultTTL time.Duration `yaml:"result_ttl"`
}

// Redis stores the latest result of every strategy under
// <prefix>result:<id> and publishes results and closed candles on the
// <prefix>results and <prefix>candles:<symbol>:<timeframe> channels.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisWithClient(client, cfg.Prefix, cfg.ResultTTL), nil
}

func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) ResultKey(strategyID string) string { return r.prefix + "result:" + strategyID }

func (r *Redis) ResultsChannel() string { return r.prefix + "results" }

func (r *Redis) CandleChannel(symbol, timeframe string) string {
	return r.prefix + "candles:" + strings.ToUpper(symbol) + ":" + timeframe
}

type resultMessage struct {
	StrategyID string             `json:"strategy_id"`
	Time       time.Time          `json:"time"`
	Result     performance.Result `json:"result"`
}

func (r *Redis) PublishResult(ctx context.Context, strategyID string, res performance.Result) error {
	payload, err := json.Marshal(resultMessage{StrategyID: strategyID, Time: time.Now().UTC(), Result: res})
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.ResultKey(strategyID), payload, r.ttl)
	pipe.Publish(ctx, r.ResultsChannel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish result for %s: %w", strategyID, err)
	}
	utils.GetLogger().Debugf("Publisher | [%s] Result published: profit=%.2f trades=%d", strategyID, res.Profit, res.TotalPositions)
	return nil
}

func (r *Redis) PublishCandle(ctx context.Context, c candle.Candle) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode candle: %w", err)
	}
	if err := r.client.Publish(ctx, r.CandleChannel(c.Symbol, c.Timeframe), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish candle %s %s at %s: %w", c.Symbol, c.Timeframe, c.Date, err)
	}
	return nil
}

// LatestResult reads the last published result of strategyID.
func (r *Redis) LatestResult(ctx context.Context, strategyID string) (performance.Result, error) {
	raw, err := r.client.Get(ctx, r.ResultKey(strategyID)).Bytes()
	if err != nil {
		return performance.Result{}, fmt.Errorf("failed to read result for %s: %w", strategyID, err)
	}
	var msg resultMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return performance.Result{}, fmt.Errorf("failed to decode result for %s: %w", strategyID, err)
	}
	return msg.Result, nil
}

func (r *Redis) Close() error { return r.client.Close() }
