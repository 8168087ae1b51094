package database

import (
	"context"
	"fmt"

	"github.com/irfndi/regimebot/internal/models"
	"github.com/shopspring/decimal"
)

const createFillsTable = `
	CREATE TABLE IF NOT EXISTS paper_fills (
		id TEXT PRIMARY KEY,
		filled_at TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity NUMERIC NOT NULL,
		price NUMERIC NOT NULL,
		fee NUMERIC NOT NULL,
		realized_pnl NUMERIC NOT NULL,
		reason TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

const insertFill = `
	INSERT INTO paper_fills (id, filled_at, symbol, side, quantity, price, fee, realized_pnl, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING`

const selectRecentFills = `
	SELECT id, filled_at, symbol, side, quantity::text, price::text, fee::text, realized_pnl::text, reason
	FROM paper_fills
	WHERE symbol = $1
	ORDER BY filled_at DESC
	LIMIT $2`

// FillRepository journals paper fills to Postgres for reporting.
// The ledger files stay authoritative; this table is a mirror.
type FillRepository struct {
	pool DatabasePool
}

// NewFillRepository creates a new fill repository.
func NewFillRepository(pool DatabasePool) *FillRepository {
	return &FillRepository{pool: pool}
}

// EnsureSchema creates the journal table if it does not exist.
func (r *FillRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createFillsTable); err != nil {
		return fmt.Errorf("failed to create paper_fills table: %w", err)
	}
	return nil
}

// InsertFills writes fills, skipping any id already journaled.
// It returns how many rows were new.
func (r *FillRepository) InsertFills(ctx context.Context, fills []models.Fill) (int64, error) {
	var inserted int64
	for _, f := range fills {
		tag, err := r.pool.Exec(ctx, insertFill,
			f.ID, f.Timestamp, f.Symbol, string(f.Side),
			f.Quantity.String(), f.Price.String(), f.Fee.String(), f.RealizedPnL.String(),
			f.Reason,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert fill %s: %w", f.ID, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// RecentFills returns the newest fills for a symbol.
func (r *FillRepository) RecentFills(ctx context.Context, symbol string, limit int) ([]models.Fill, error) {
	rows, err := r.pool.Query(ctx, selectRecentFills, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var fills []models.Fill
	for rows.Next() {
		var (
			f                           models.Fill
			side                        string
			qty, price, fee, realizedPL string
		)
		if err := rows.Scan(&f.ID, &f.Timestamp, &f.Symbol, &side, &qty, &price, &fee, &realizedPL, &f.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Side = models.Side(side)
		if f.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("invalid quantity for fill %s: %w", f.ID, err)
		}
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price for fill %s: %w", f.ID, err)
		}
		if f.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("invalid fee for fill %s: %w", f.ID, err)
		}
		if f.RealizedPnL, err = decimal.NewFromString(realizedPL); err != nil {
			return nil, fmt.Errorf("invalid realized pnl for fill %s: %w", f.ID, err)
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fills: %w", err)
	}
	return fills, nil
}
