package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/amirphl/strategy-engine/internal/backtest"
	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/config"
	"github.com/amirphl/strategy-engine/internal/db"
	"github.com/amirphl/strategy-engine/internal/db/conf"
	"github.com/amirphl/strategy-engine/internal/exchange"
	"github.com/amirphl/strategy-engine/internal/notifier"
	"github.com/amirphl/strategy-engine/internal/orchestrator"
	"github.com/amirphl/strategy-engine/internal/performance"
	"github.com/amirphl/strategy-engine/internal/publisher"
	"github.com/amirphl/strategy-engine/internal/strategy"
	"github.com/amirphl/strategy-engine/internal/utils"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	utils.SetLevel(cfg.LogLevel)
	logger := utils.GetLogger()
	defer logger.Sync()
	logger.Infof("Main | Starting strategy engine in %s mode: %s on %s %s", cfg.Mode, cfg.Strategy.Name, cfg.Symbol, cfg.Timeframe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("Main | Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("Main | %v", err)
		os.Exit(1)
	}
	logger.Info("Main | Shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	storage, err := openStorage(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer storage.Close()

	strat, err := strategy.Load(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{orchestrator.WithStorage(storage)}

	switch cfg.Mode {
	case config.ModeBacktest:
		return runBacktest(ctx, cfg, storage, strat, opts)
	case config.ModeLive:
		return runLive(ctx, cfg, storage, strat, opts)
	default:
		return fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}
}

// openStorage connects to Postgres when a connection string is configured
// and falls back to memory otherwise.
func openStorage(ctx context.Context, c config.DBConfig) (db.Storage, error) {
	if c.ConnStr == "" {
		utils.GetLogger().Warn("Main | No database configured, positions and events are kept in memory")
		return db.NewMemory(), nil
	}
	if c.Migrate {
		if err := runMigrations(ctx, c.ConnStr); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	pg, err := db.Connect(ctx, c.ConnStr)
	if err != nil {
		return nil, err
	}
	pg.DB().SetMaxOpenConns(c.MaxOpen)
	pg.DB().SetMaxIdleConns(c.MaxIdle)
	utils.GetLogger().Info("Main | Connected to Postgres")
	return pg, nil
}

// runMigrations creates the database if it doesn't exist and applies scripts/schema.sql.
func runMigrations(ctx context.Context, connStr string) error {
	logger := utils.GetLogger()
	logger.Info("Main | Running database migrations...")

	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	base := *u
	base.Path = "/postgres"
	baseDB, err := sqlx.ConnectContext(ctx, "postgres", base.String())
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	if err := baseDB.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName); err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if !exists {
		logger.Infof("Main | Creating database %s...", dbName)
		if _, err := baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	schema, err := conf.ReadSchema()
	if err != nil {
		return err
	}
	pg, err := db.Connect(ctx, connStr)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx, schema); err != nil {
		return err
	}

	logger.Info("Main | Database migrations completed successfully")
	return nil
}

func openNotifier(c config.TelegramConfig) notifier.Notifier {
	if c.Token == "" {
		return notifier.Log{}
	}
	n := notifier.NewTelegramNotifier(c.Token, c.ChatID)
	n.Retries = c.Retries
	n.Backoff = c.Backoff
	return n
}

// candleRecorder persists closed candles and forwards everything to Redis
// when configured.
type candleRecorder struct {
	storage db.Storage
	redis   *publisher.Redis
}

func (r *candleRecorder) PublishResult(ctx context.Context, strategyID string, res performance.Result) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.PublishResult(ctx, strategyID, res)
}

func (r *candleRecorder) PublishCandle(ctx context.Context, c candle.Candle) error {
	if err := r.storage.SaveCandles(ctx, candle.CandlesToDBCandles([]candle.Candle{c})); err != nil {
		return err
	}
	if r.redis == nil {
		return nil
	}
	return r.redis.PublishCandle(ctx, c)
}

func runLive(ctx context.Context, cfg config.Config, storage db.Storage, strat strategy.Strategy, opts []orchestrator.Option) error {
	logger := utils.GetLogger()

	rec := &candleRecorder{storage: storage}
	if cfg.Redis.Addr != "" {
		r, err := publisher.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer r.Close()
		rec.redis = r
	}

	gw := exchange.NewWallexGateway(cfg.WallexGateway())
	gw.Start(ctx)
	defer gw.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = append(opts,
		orchestrator.WithPublisher(rec),
		orchestrator.WithNotifier(openNotifier(cfg.Telegram)),
		orchestrator.WithOnDisabled(func(e *orchestrator.DisabledError) {
			logger.Errorf("Main | Strategy %s disabled: %v", e.StrategyID, e)
			cancel()
		}),
	)
	orch, err := orchestrator.New(ctx, cfg.Orchestrator(), gw, strat, opts...)
	if err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer orch.Close()
	logger.Infof("Main | Strategy %s running on %s %s (paper=%v)", orch.ID(), cfg.Symbol, cfg.Timeframe, cfg.Wallex.Paper)

	<-ctx.Done()

	if orch.CanRun() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		orch.DisableStrategy(shutdownCtx, orchestrator.ReasonUser, nil)
	}
	backtest.PrintReport(os.Stdout, &backtest.Report{
		StrategyID: orch.ID(),
		Symbol:     cfg.Symbol,
		Timeframe:  cfg.Timeframe,
		Result:     orch.Tracker().CalculateResults(),
		Positions:  orch.Tracker().Positions(),
		Disabled:   orch.Disabled(),
	})
	return nil
}

func runBacktest(ctx context.Context, cfg config.Config, storage db.Storage, strat strategy.Strategy, opts []orchestrator.Option) error {
	candles, err := loadBacktestCandles(ctx, cfg, storage)
	if err != nil {
		return err
	}

	report, err := backtest.Run(ctx, backtest.Config{
		Orchestrator: cfg.Orchestrator(),
		Simulator:    cfg.Simulator(candles),
	}, strat, opts...)
	if err != nil {
		return err
	}

	backtest.PrintReport(os.Stdout, report)
	if cfg.Backtest.OutputCSV != "" {
		return backtest.SaveCSV(cfg.Backtest.OutputCSV, report)
	}
	return nil
}

// loadBacktestCandles reads candles from the CSV file or the database. 1m
// candles are resampled when the strategy timeframe is larger.
func loadBacktestCandles(ctx context.Context, cfg config.Config, storage db.Storage) ([]candle.Candle, error) {
	b := cfg.Backtest
	from, to := b.From, b.To
	if to.IsZero() {
		to = time.Now().UTC()
	}

	var candles []candle.Candle
	if b.CandlesFile != "" {
		all, err := candle.LoadCSV(b.CandlesFile, cfg.Symbol, cfg.Timeframe)
		if err != nil {
			return nil, err
		}
		for _, c := range all {
			if !c.Date.Before(from) && c.Date.Before(to) {
				candles = append(candles, c)
			}
		}
	} else {
		rows, err := storage.GetCandles(ctx, cfg.Symbol, cfg.Timeframe, from, to)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 && cfg.Timeframe != "1m" {
			if rows, err = storage.GetCandles(ctx, cfg.Symbol, "1m", from, to); err != nil {
				return nil, err
			}
		}
		candles = candle.DBCandlesToCandles(rows)
	}

	if len(candles) > 0 && candles[0].Timeframe != cfg.Timeframe {
		candles = candle.Resample(candles, cfg.Timeframe)
	}
	utils.GetLogger().Infof("Main | Loaded %d %s candles for %s", len(candles), cfg.Timeframe, cfg.Symbol)
	return candles, nil
}
