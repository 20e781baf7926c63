package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantagrify/terrafactor/internal/contracts"
)

// BarRepository persists daily continuous-contract bars. It is an
// ingestion-side store only: pipeline state never touches the database,
// only the raw bars fetched from the price gateway do.
// SSOT: bar persistence lives here and nowhere else
type BarRepository struct {
	pool *pgxpool.Pool
}

// NewBarRepository creates a new bar repository
func NewBarRepository(pool *pgxpool.Pool) *BarRepository {
	return &BarRepository{pool: pool}
}

// GetBySymbolAndRange retrieves bars for a symbol within a date range,
// ordered by date ascending. Dates are YYYY-MM-DD strings end to end.
func (r *BarRepository) GetBySymbolAndRange(ctx context.Context, symbol, from, to string) ([]contracts.PriceBar, error) {
	query := `
		SELECT trade_date, open_price, high_price, low_price, close_price, volume, open_interest
		FROM data.daily_bars
		WHERE symbol = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []contracts.PriceBar
	for rows.Next() {
		var b contracts.PriceBar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.OpenInterest); err != nil {
			return nil, fmt.Errorf("scan bar for %s: %w", symbol, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// GetLatestDate returns the most recent stored trade date for a symbol,
// or "" when no bars exist yet.
func (r *BarRepository) GetLatestDate(ctx context.Context, symbol string) (string, error) {
	query := `
		SELECT trade_date
		FROM data.daily_bars
		WHERE symbol = $1
		ORDER BY trade_date DESC
		LIMIT 1
	`

	var date string
	err := r.pool.QueryRow(ctx, query, symbol).Scan(&date)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest date for %s: %w", symbol, err)
	}
	return date, nil
}

// Save upserts a single bar
func (r *BarRepository) Save(ctx context.Context, symbol string, bar contracts.PriceBar) error {
	query := `
		INSERT INTO data.daily_bars (symbol, trade_date, open_price, high_price, low_price, close_price, volume, open_interest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, trade_date) DO UPDATE SET
			open_price = EXCLUDED.open_price,
			high_price = EXCLUDED.high_price,
			low_price = EXCLUDED.low_price,
			close_price = EXCLUDED.close_price,
			volume = EXCLUDED.volume,
			open_interest = EXCLUDED.open_interest
	`

	_, err := r.pool.Exec(ctx, query,
		symbol, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.OpenInterest,
	)
	return err
}

// SaveBatch upserts multiple bars in one round trip.
func (r *BarRepository) SaveBatch(ctx context.Context, symbol string, bars []contracts.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO data.daily_bars (symbol, trade_date, open_price, high_price, low_price, close_price, volume, open_interest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, trade_date) DO UPDATE SET
			open_price = EXCLUDED.open_price,
			high_price = EXCLUDED.high_price,
			low_price = EXCLUDED.low_price,
			close_price = EXCLUDED.close_price,
			volume = EXCLUDED.volume,
			open_interest = EXCLUDED.open_interest
	`
	for _, bar := range bars {
		batch.Queue(query, symbol, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.OpenInterest)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range bars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch save bars for %s: %w", symbol, err)
		}
	}
	return nil
}
