// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/strategy-engine/internal/backtest"
	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/exchange"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/orchestrator"
	"github.com/amirphl/strategy-engine/internal/publisher"
	"github.com/amirphl/strategy-engine/internal/risk"
	"github.com/amirphl/strategy-engine/internal/strategy"
	"github.com/amirphl/strategy-engine/internal/tfutils"
)

/*
YAML config example:
mode: "backtest"
log_level: "info"
symbol: "EURUSD"
timeframe: "5m"
secondary_timeframe: "1h"
strategy:
  name: "rsi"
  params: { period: 14, overbought: 70, oversold: 30, trailing_pips: 0 }
risk:
  percent: 1.0
  default_stop_loss_pips: 100
  default_take_profit_pips: 150
  account_currency: "USD"
thresholds: { enabled: true, loss_streak: 5, max_drawdown_percent: 20, min_trades_profit_factor: 30 }
symbol_info:
  symbol: "EURUSD"
  category: "FX"
  tick_size: 0.00001
  contract_size: 100000
  lot_min: 0.01
  lot_max: 50
  leverage: 100
  currency: "EUR"
  currency_profit: "USD"
backtest:
  from: 2024-01-01
  to: 2024-03-01
  candles_file: "data/EURUSD_5m.csv"
  balance: 10000
  min_spread: 0.5
  max_spread: 2
  seed: 42
  warmup: 200
  output_csv: "trades.csv"
redis: { addr: "localhost:6379", prefix: "strategy-engine:" }
*/

const (
	ModeLive     = "live"
	ModeBacktest = "backtest"
)

type StrategyConfig struct {
	Name   string          `yaml:"name"`
	ID     string          `yaml:"id"`
	Params strategy.Params `yaml:"params"`
}

type RiskConfig struct {
	Percent               float64 `yaml:"percent"`
	DefaultStopLossPips   float64 `yaml:"default_stop_loss_pips"`
	DefaultTakeProfitPips float64 `yaml:"default_take_profit_pips"`
	AccountCurrency       string  `yaml:"account_currency"`
	CrossSymbol           string  `yaml:"cross_symbol"`
	CrossInverted         bool    `yaml:"cross_inverted"`
}

type WallexConfig struct {
	APIKey         string        `yaml:"api_key"`
	QuoteAsset     string        `yaml:"quote_asset"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	HistoryCandles int           `yaml:"history_candles"`
	Paper          bool          `yaml:"paper"`
	MaxFailures    int           `yaml:"max_failures"`
}

type BacktestConfig struct {
	From time.Time `yaml:"from"`
	To   time.Time `yaml:"to"`
	// CandlesFile is a CSV of candles in the configured timeframe. When
	// empty, candles are loaded from the database.
	CandlesFile string  `yaml:"candles_file"`
	Balance     float64 `yaml:"balance"`
	MinSpread   float64 `yaml:"min_spread"`
	MaxSpread   float64 `yaml:"max_spread"`
	Seed        int64   `yaml:"seed"`
	Warmup      int     `yaml:"warmup"`
	OutputCSV   string  `yaml:"output_csv"`
	// CrossRate prices risk.cross_symbol for the whole replay when the quote
	// currency is neither the base nor the account currency.
	CrossRate float64 `yaml:"cross_rate"`
}

type DBConfig struct {
	ConnStr string `yaml:"conn_str"`
	MaxOpen int    `yaml:"max_open"`
	MaxIdle int    `yaml:"max_idle"`
	// Migrate applies scripts/schema.sql on startup.
	Migrate bool `yaml:"migrate"`
}

type TelegramConfig struct {
	Token   string        `yaml:"token"`
	ChatID  string        `yaml:"chat_id"`
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

type Config struct {
	Mode               string `yaml:"mode"`
	LogLevel           string `yaml:"log_level"`
	Symbol             string `yaml:"symbol"`
	Timeframe          string `yaml:"timeframe"`
	SecondaryTimeframe string `yaml:"secondary_timeframe"`
	Capacity           int    `yaml:"capacity"`

	Strategy   StrategyConfig    `yaml:"strategy"`
	Risk       RiskConfig        `yaml:"risk"`
	Thresholds risk.Thresholds   `yaml:"thresholds"`
	SymbolInfo market.SymbolInfo `yaml:"symbol_info"`

	Wallex   WallexConfig          `yaml:"wallex"`
	Backtest BacktestConfig        `yaml:"backtest"`
	DB       DBConfig              `yaml:"db"`
	Redis    publisher.RedisConfig `yaml:"redis"`
	Telegram TelegramConfig        `yaml:"telegram"`
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Mode:      ModeBacktest,
		LogLevel:  "info",
		Symbol:    "EURUSD",
		Timeframe: "5m",
		Capacity:  candle.DefaultCapacity,
		Strategy:  StrategyConfig{Name: "rsi"},
		Risk: RiskConfig{
			Percent:               1,
			DefaultStopLossPips:   100,
			DefaultTakeProfitPips: 150,
			AccountCurrency:       "USD",
		},
		Wallex: WallexConfig{QuoteAsset: "USDT", PollInterval: 2 * time.Second, MaxFailures: 5},
		Backtest: BacktestConfig{
			Balance:   10000,
			MinSpread: 0.5,
			MaxSpread: 2,
			Seed:      1,
			Warmup:    200,
		},
		DB:       DBConfig{MaxOpen: 10, MaxIdle: 5},
		Telegram: TelegramConfig{Retries: 3, Backoff: 5 * time.Second},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// -config, the .env file, the environment and finally explicitly set flags.
func Load(args []string) (Config, error) {
	flags := flag.NewFlagSet("strategy-engine", flag.ContinueOnError)
	configFile := flags.String("config", "", "Path to YAML config file")
	envFile := flags.String("env", ".env", "Path to .env file")
	mode := flags.String("mode", "", "Mode: live or backtest")
	strategyName := flags.String("strategy", "", "Strategy name")
	symbol := flags.String("symbol", "", "Trading symbol")
	timeframe := flags.String("timeframe", "", "Candle timeframe")
	from := flags.String("from", "", "Backtest start date (YYYY-MM-DD)")
	to := flags.String("to", "", "Backtest end date (YYYY-MM-DD)")
	candlesFile := flags.String("candles", "", "Backtest candles CSV file")
	output := flags.String("out", "", "Backtest trades CSV output")
	seed := flags.Int64("seed", 0, "Backtest spread seed")
	paper := flags.Bool("paper", false, "Fill live orders locally")
	logLevel := flags.String("log-level", "", "Log level: debug, info, warn, error")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", *envFile, err)
	}
	applyEnv(&cfg)

	var err error
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "strategy":
			cfg.Strategy.Name = *strategyName
		case "symbol":
			cfg.Symbol = *symbol
		case "timeframe":
			cfg.Timeframe = *timeframe
		case "from":
			t, perr := time.Parse(time.DateOnly, *from)
			if perr != nil && err == nil {
				err = fmt.Errorf("invalid -from: %w", perr)
			}
			cfg.Backtest.From = t
		case "to":
			t, perr := time.Parse(time.DateOnly, *to)
			if perr != nil && err == nil {
				err = fmt.Errorf("invalid -to: %w", perr)
			}
			cfg.Backtest.To = t
		case "candles":
			cfg.Backtest.CandlesFile = *candlesFile
		case "out":
			cfg.Backtest.OutputCSV = *output
		case "seed":
			cfg.Backtest.Seed = *seed
		case "paper":
			cfg.Wallex.Paper = *paper
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WALLEX_API_KEY"); v != "" {
		cfg.Wallex.APIKey = v
	}
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.DB.ConnStr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, err := strconv.ParseBool(os.Getenv("WALLEX_PAPER")); err == nil {
		cfg.Wallex.Paper = v
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModeBacktest:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeLive, ModeBacktest, c.Mode)
	}
	if c.Strategy.Name == "" {
		return errors.New("strategy name is required")
	}
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("%w: %q", tfutils.ErrUnsupportedTimeframe, c.Timeframe)
	}
	if c.Risk.Percent <= 0 || c.Risk.Percent > 100 {
		return fmt.Errorf("risk percent must be in (0, 100], got %v", c.Risk.Percent)
	}
	if c.SymbolInfo.Symbol != "" && c.SymbolInfo.TickSize <= 0 {
		return errors.New("symbol_info.tick_size must be positive")
	}

	switch c.Mode {
	case ModeBacktest:
		b := c.Backtest
		if b.Balance <= 0 {
			return fmt.Errorf("backtest balance must be positive, got %v", b.Balance)
		}
		if b.Warmup <= 0 {
			return fmt.Errorf("backtest warmup must be positive, got %d", b.Warmup)
		}
		if b.MinSpread < 0 || b.MaxSpread < 0 {
			return errors.New("backtest spreads must not be negative")
		}
		if !b.From.IsZero() && !b.To.IsZero() && !b.From.Before(b.To) {
			return fmt.Errorf("backtest from %s must be before to %s", b.From.Format(time.DateOnly), b.To.Format(time.DateOnly))
		}
		if c.SymbolInfo.Symbol == "" {
			return errors.New("symbol_info is required for backtests")
		}
		if b.CandlesFile == "" && c.DB.ConnStr == "" {
			return errors.New("backtest needs candles_file or db.conn_str")
		}
	case ModeLive:
		if c.Wallex.APIKey == "" && !c.Wallex.Paper {
			return errors.New("WALLEX_API_KEY is required for live trading")
		}
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == "") {
		return errors.New("telegram token and chat id must be set together")
	}
	return nil
}

func (c Config) StrategyID() string {
	if c.Strategy.ID != "" {
		return c.Strategy.ID
	}
	return fmt.Sprintf("%s-%s-%s", c.Strategy.Name, c.Symbol, c.Timeframe)
}

func (c Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		StrategyID:            c.StrategyID(),
		Symbol:                c.Symbol,
		Timeframe:             c.Timeframe,
		SecondaryTimeframe:    c.SecondaryTimeframe,
		Capacity:              c.Capacity,
		RiskPercent:           c.Risk.Percent,
		DefaultStopLossPips:   c.Risk.DefaultStopLossPips,
		DefaultTakeProfitPips: c.Risk.DefaultTakeProfitPips,
		AccountCurrency:       c.Risk.AccountCurrency,
		CrossSymbol:           c.Risk.CrossSymbol,
		CrossInverted:         c.Risk.CrossInverted,
		Thresholds:            c.Thresholds,
	}
}

func (c Config) WallexGateway() exchange.WallexConfig {
	symbols := map[string]market.SymbolInfo{}
	if c.SymbolInfo.Symbol != "" {
		symbols[exchange.NormalizeSymbol(c.SymbolInfo.Symbol)] = c.SymbolInfo
	}
	return exchange.WallexConfig{
		APIKey:         c.Wallex.APIKey,
		Symbols:        symbols,
		QuoteAsset:     c.Wallex.QuoteAsset,
		PollInterval:   c.Wallex.PollInterval,
		HistoryCandles: c.Wallex.HistoryCandles,
		Paper:          c.Wallex.Paper,
		MaxFailures:    c.Wallex.MaxFailures,
	}
}

// Simulator returns the simulator settings for the given candles.
func (c Config) Simulator(candles []candle.Candle) backtest.SimulatorConfig {
	return backtest.SimulatorConfig{
		Info:      c.SymbolInfo,
		Timeframe: c.Timeframe,
		Candles:   candles,
		Warmup:    c.Backtest.Warmup,
		Balance:   c.Backtest.Balance,
		MinSpread: c.Backtest.MinSpread,
		MaxSpread: c.Backtest.MaxSpread,
		Seed:      c.Backtest.Seed,
		CrossRate: c.Backtest.CrossRate,
	}
}
