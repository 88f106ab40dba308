package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"lob-engine/src/engine"
)

// Journal persists executed trades to SQLite. It is an engine.TradeSink.
type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; the dispatcher is the only one anyway
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		market TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		price TEXT NOT NULL,  -- canonical decimal string
		size TEXT NOT NULL,
		resting_order_id TEXT NOT NULL,
		incoming_order_id TEXT NOT NULL,
		aggressor_side TEXT NOT NULL,
		executed_at INTEGER NOT NULL,  -- unix nanoseconds
		UNIQUE(market, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_market_sequence ON trades(market, sequence DESC);
	`
	_, err := j.db.Exec(schema)
	return err
}

// HandleTrades writes one batch in a single transaction.
func (j *Journal) HandleTrades(ctx context.Context, batch engine.TradeBatch) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (id, market, sequence, price, size, resting_order_id, incoming_order_id, aggressor_side, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, tr := range batch.Trades {
		_, err := stmt.ExecContext(ctx,
			tr.ID,
			tr.Instrument.String(),
			int64(tr.Sequence),
			tr.Price.String(),
			tr.Size.String(),
			tr.RestingOrderID,
			tr.IncomingOrderID,
			string(tr.AggressorSide),
			tr.ExecutedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert trade %d of %s: %w", tr.Sequence, tr.Instrument, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit trades of inst, newest first.
func (j *Journal) Recent(ctx context.Context, inst engine.Instrument, limit int) ([]engine.Trade, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, sequence, price, size, resting_order_id, incoming_order_id, aggressor_side, executed_at
		FROM trades
		WHERE market = ?
		ORDER BY sequence DESC
		LIMIT ?`, inst.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []engine.Trade
	for rows.Next() {
		var (
			tr          engine.Trade
			sequence    int64
			price, size string
			side        string
			executedAt  int64
		)
		if err := rows.Scan(&tr.ID, &sequence, &price, &size, &tr.RestingOrderID, &tr.IncomingOrderID, &side, &executedAt); err != nil {
			return nil, err
		}
		if tr.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("trade %s price: %w", tr.ID, err)
		}
		if tr.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("trade %s size: %w", tr.ID, err)
		}
		tr.Instrument = inst
		tr.Sequence = uint64(sequence)
		tr.AggressorSide = engine.OrderSide(side)
		tr.ExecutedAt = time.Unix(0, executedAt)
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// LastSequence returns the highest journaled sequence of inst, 0 if none.
func (j *Journal) LastSequence(ctx context.Context, inst engine.Instrument) (uint64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM trades WHERE market = ?`, inst.String()).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return uint64(seq.Int64), nil
}
