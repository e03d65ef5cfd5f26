// Package sqlite is the engine's durable store: pending orders, execution
// records, and the instrument symbol→token table. The engine's in-memory
// caches remain the source of truth for in-flight decisions; this store is
// their durable mirror.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"order-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the store.
type Config struct {
	DBPath string // e.g. "data/orders.db"
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens (or creates) the database with WAL mode and the engine schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_orders (
			order_id         TEXT PRIMARY KEY,
			trading_symbol   TEXT NOT NULL,
			instrument_token INTEGER NOT NULL,
			quantity         INTEGER NOT NULL,
			order_type       TEXT NOT NULL,
			limit_price      TEXT,
			trigger_price    TEXT,
			variety          TEXT NOT NULL,
			product          TEXT NOT NULL,
			validity         TEXT NOT NULL,
			operation        TEXT NOT NULL,
			execution_limit  INTEGER NOT NULL,
			executions_done  INTEGER NOT NULL DEFAULT 0,
			status           TEXT NOT NULL DEFAULT 'PENDING',
			exchange_order_id TEXT,
			exchange_update_time DATETIME,
			last_execution_price TEXT,
			last_execution_time  DATETIME,
			completion_time  DATETIME,
			created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_modified    DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_pending_orders_status ON pending_orders(status);
		CREATE INDEX IF NOT EXISTS idx_pending_orders_token ON pending_orders(instrument_token);

		CREATE TABLE IF NOT EXISTS order_executions (
			execution_id    TEXT PRIMARY KEY,
			order_id        TEXT NOT NULL,
			execution_price TEXT NOT NULL,
			execution_time  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_order_executions_order ON order_executions(order_id);

		CREATE TABLE IF NOT EXISTS instruments (
			trading_symbol   TEXT PRIMARY KEY,
			exchange         TEXT NOT NULL DEFAULT 'NSE',
			instrument_token INTEGER NOT NULL
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ── Synchronous paths (intake pipeline) ──

// InstrumentToken looks a symbol up in the instruments table.
// ok is false on a miss.
func (s *Store) InstrumentToken(ctx context.Context, tradingSymbol string) (uint32, bool, error) {
	var token uint32
	err := s.db.QueryRowContext(ctx,
		`SELECT instrument_token FROM instruments WHERE trading_symbol = ?`,
		tradingSymbol).Scan(&token)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("instrument lookup %s: %w", tradingSymbol, err)
	}
	return token, true, nil
}

// ModifyPending updates a pending order's mutable fields. The status guard
// makes modification of an already-executed or cancelled order a no-op;
// the caller gets false and leaves in-memory state untouched.
func (s *Store) ModifyPending(ctx context.Context, o *model.Order) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_orders SET
			trading_symbol = ?,
			instrument_token = ?,
			quantity = ?,
			order_type = ?,
			limit_price = ?,
			trigger_price = ?,
			variety = ?,
			product = ?,
			validity = ?,
			operation = ?,
			last_modified = CURRENT_TIMESTAMP
		WHERE order_id = ? AND status = 'PENDING'`,
		o.TradingSymbol, o.InstrumentToken, o.Quantity, o.OrderType,
		o.LimitPrice.String(), o.TriggerPrice.String(),
		o.Variety, o.Product, o.Validity, o.Operation, o.OrderID)
	if err != nil {
		return false, fmt.Errorf("modify order %s: %w", o.OrderID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelPending flips a pending order to CANCELLED. Same guard as modify.
func (s *Store) CancelPending(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_orders
		SET status = 'CANCELLED', last_modified = CURRENT_TIMESTAMP
		WHERE order_id = ? AND status = 'PENDING'`, orderID)
	if err != nil {
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ActiveOrders loads every non-terminal order for cache warm-up.
func (s *Store) ActiveOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, trading_symbol, instrument_token, quantity, order_type,
		       COALESCE(limit_price, '0'), COALESCE(trigger_price, '0'),
		       variety, product, validity, operation,
		       execution_limit, executions_done, status
		FROM pending_orders
		WHERE status IN ('PENDING', 'PARTIALLY_EXECUTED')`)
	if err != nil {
		return nil, fmt.Errorf("load active orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var limit, trigger string
		if err := rows.Scan(&o.OrderID, &o.TradingSymbol, &o.InstrumentToken,
			&o.Quantity, &o.OrderType, &limit, &trigger,
			&o.Variety, &o.Product, &o.Validity, &o.Operation,
			&o.ExecutionLimit, &o.ExecutionsDone, &o.Status); err != nil {
			return nil, fmt.Errorf("scan active order: %w", err)
		}
		o.LimitPrice, _ = decimal.NewFromString(limit)
		o.TriggerPrice, _ = decimal.NewFromString(trigger)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Instruments loads the symbol→token table for cache warm-up.
func (s *Store) Instruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trading_symbol, exchange, instrument_token FROM instruments`)
	if err != nil {
		return nil, fmt.Errorf("load instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		if err := rows.Scan(&inst.TradingSymbol, &inst.Exchange, &inst.InstrumentToken); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ── Asynchronous path (persistence worker pool) ──

// Apply runs one durable write job in its own transaction. The scope is
// released on completion regardless of outcome; callers drop failed jobs.
func (s *Store) Apply(ctx context.Context, job model.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	switch job.Kind {
	case model.JobInsertOrder:
		err = insertOrder(ctx, tx, job.Order)
	case model.JobRecordExecution:
		err = recordExecution(ctx, tx, job.OrderID, job.Price, job.ExecutedAt)
	case model.JobUpdateStatus:
		err = updateStatus(ctx, tx, job.OrderID, job.Status)
	case model.JobBrokerUpdate:
		err = applyBrokerUpdate(ctx, tx, job.OrderID, job.Update)
	case model.JobUpsertInstrument:
		err = upsertInstrument(ctx, tx, job.Instrument)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func insertOrder(ctx context.Context, tx *sql.Tx, o model.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_orders
			(order_id, trading_symbol, instrument_token, quantity, order_type,
			 limit_price, trigger_price, variety, product, validity, operation,
			 execution_limit, executions_done, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'PENDING')`,
		o.OrderID, o.TradingSymbol, o.InstrumentToken, o.Quantity, o.OrderType,
		o.LimitPrice.String(), o.TriggerPrice.String(),
		o.Variety, o.Product, o.Validity, o.Operation,
		o.ExecutionLimit, o.ExecutionsDone)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	return nil
}

func recordExecution(ctx context.Context, tx *sql.Tx, orderID string, price decimal.Decimal, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_executions (execution_id, order_id, execution_price, execution_time)
		VALUES (?, ?, ?, ?)`,
		uuid.NewString(), orderID, price.String(), at.UTC())
	if err != nil {
		return fmt.Errorf("record execution for %s: %w", orderID, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE pending_orders
		SET executions_done = executions_done + 1,
		    last_execution_price = ?,
		    last_execution_time = ?,
		    status = CASE
		        WHEN executions_done + 1 >= execution_limit THEN 'COMPLETED'
		        ELSE 'PARTIALLY_EXECUTED'
		    END,
		    last_modified = CURRENT_TIMESTAMP
		WHERE order_id = ?`,
		price.String(), at.UTC(), orderID)
	if err != nil {
		return fmt.Errorf("update counters for %s: %w", orderID, err)
	}
	return nil
}

func updateStatus(ctx context.Context, tx *sql.Tx, orderID, status string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pending_orders
		SET status = ?,
		    completion_time = CASE WHEN ? IN ('COMPLETED', 'CANCELLED', 'REJECTED')
		        THEN CURRENT_TIMESTAMP ELSE completion_time END,
		    last_modified = CURRENT_TIMESTAMP
		WHERE order_id = ?`, status, status, orderID)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", orderID, err)
	}
	return nil
}

func applyBrokerUpdate(ctx context.Context, tx *sql.Tx, orderID string, u model.OrderUpdate) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pending_orders
		SET status = ?,
		    exchange_order_id = ?,
		    exchange_update_time = ?,
		    last_modified = CURRENT_TIMESTAMP
		WHERE order_id = ?`,
		u.EngineStatus(), u.ExchangeOrderID, u.ExchangeTimestamp, orderID)
	if err != nil {
		return fmt.Errorf("broker update for %s: %w", orderID, err)
	}
	return nil
}

func upsertInstrument(ctx context.Context, tx *sql.Tx, inst model.Instrument) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO instruments (trading_symbol, exchange, instrument_token)
		VALUES (?, ?, ?)
		ON CONFLICT(trading_symbol) DO UPDATE SET
			exchange = excluded.exchange,
			instrument_token = excluded.instrument_token`,
		inst.TradingSymbol, inst.Exchange, inst.InstrumentToken)
	if err != nil {
		return fmt.Errorf("upsert instrument %s: %w", inst.TradingSymbol, err)
	}
	return nil
}
