package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/amirphl/strategy-engine/internal/journal"
	"github.com/amirphl/strategy-engine/internal/position"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

type Postgres struct {
	db *sqlx.DB
}

// Connect opens and pings a PostgreSQL connection.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewPostgres(db), nil
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) DB() *sqlx.DB { return p.db }

func (p *Postgres) Close() error { return p.db.Close() }

// executeWithTransaction runs fn inside the transaction from ctx, or in a new
// one that is committed when fn succeeds.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryer returns the transaction from ctx if available.
func (p *Postgres) queryer(ctx context.Context) sqlx.QueryerContext {
	if tx := GetTransaction(ctx); tx != nil {
		return tx
	}
	return p.db
}

// Migrate applies the statements of schema one by one. Hypertable statements
// are skipped when TimescaleDB is not installed.
func (p *Postgres) Migrate(ctx context.Context, schema string) error {
	var timescale bool
	if err := p.db.GetContext(ctx, &timescale, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`); err != nil {
		return fmt.Errorf("failed to check for timescaledb: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range strings.Split(schema, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if !timescale && strings.Contains(strings.ToLower(stmt), "create_hypertable") {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema statement %q: %w", stmt, err)
			}
		}
		return nil
	})
}

func (p *Postgres) SavePosition(ctx context.Context, pos position.Position) error {
	return p.executeWithTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
		INSERT INTO positions (id, strategy_id, symbol, direction, requested_price, open_price, close_price,
			stop_loss, take_profit, volume, profit, date_open, date_close, status, comment)
		VALUES (:id, :strategy_id, :symbol, :direction, :requested_price, :open_price, :close_price,
			:stop_loss, :take_profit, :volume, :profit, :date_open, :date_close, :status, :comment)
		ON CONFLICT (id) DO UPDATE SET
			open_price=EXCLUDED.open_price, close_price=EXCLUDED.close_price,
			stop_loss=EXCLUDED.stop_loss, take_profit=EXCLUDED.take_profit,
			volume=EXCLUDED.volume, profit=EXCLUDED.profit,
			date_open=EXCLUDED.date_open, date_close=EXCLUDED.date_close,
			status=EXCLUDED.status, comment=EXCLUDED.comment`,
			toPositionRow(pos))
		if err != nil {
			return fmt.Errorf("failed to save position %s: %w", pos.ID, err)
		}
		return nil
	})
}

func (p *Postgres) GetPositions(ctx context.Context, strategyID string) ([]position.Position, error) {
	var rows []positionRow
	err := sqlx.SelectContext(ctx, p.queryer(ctx), &rows, `
		SELECT id, strategy_id, symbol, direction, requested_price, open_price, close_price,
			stop_loss, take_profit, volume, profit, date_open, date_close, status, comment
		FROM positions WHERE strategy_id=$1 ORDER BY date_open ASC NULLS LAST, id ASC`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions for %s: %w", strategyID, err)
	}
	out := make([]position.Position, len(rows))
	for i, r := range rows {
		out[i] = r.position()
	}
	return out, nil
}

func (p *Postgres) LogEvent(ctx context.Context, event journal.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO events (time, strategy_id, type, description, data) VALUES (:time, :strategy_id, :type, :description, :data)`,
			eventRow{Time: event.Time.UTC(), StrategyID: event.StrategyID, Type: event.Type, Description: event.Description, Data: string(data)})
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	var rows []eventRow
	err := sqlx.SelectContext(ctx, p.queryer(ctx), &rows,
		`SELECT time, strategy_id, type, description, data FROM events WHERE type=$1 AND time >= $2 AND time <= $3 ORDER BY time ASC`,
		eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	events := make([]journal.Event, 0, len(rows))
	for _, r := range rows {
		e := journal.Event{Time: r.Time.UTC(), StrategyID: r.StrategyID, Type: r.Type, Description: r.Description}
		if len(r.Data) > 0 {
			if err := json.Unmarshal([]byte(r.Data), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, nil
}

func (p *Postgres) SaveCandles(ctx context.Context, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d for %s %s at %s: %w",
				i, c.Symbol, c.Timeframe, c.Timestamp, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
			VALUES (:symbol, :timeframe, :timestamp, :open, :high, :low, :close, :volume)
			ON CONFLICT (symbol, timeframe, timestamp) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, c := range candles {
			c.Symbol = strings.ToUpper(c.Symbol)
			c.Timestamp = c.Timestamp.UTC()
			if _, err := stmt.ExecContext(ctx, c); err != nil {
				return fmt.Errorf("failed to save candle at index %d (%s %s at %s): %w",
					i, c.Symbol, c.Timeframe, c.Timestamp, err)
			}
		}
		return nil
	})
}

func (p *Postgres) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error) {
	var candles []Candle
	err := sqlx.SelectContext(ctx, p.queryer(ctx), &candles, `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume
		FROM candles WHERE symbol=$1 AND timeframe=$2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC`, strings.ToUpper(symbol), timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles for %s %s: %w", symbol, timeframe, err)
	}
	for i := range candles {
		candles[i].Timestamp = candles[i].Timestamp.UTC()
	}
	return candles, nil
}
