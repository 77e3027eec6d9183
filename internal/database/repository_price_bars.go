package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"tokenfolio/internal/position"
)

// Bar is one stored OHLC bar.
type Bar struct {
	Token     string    `json:"token"`
	Chain     string    `json:"chain"`
	Timeframe string    `json:"timeframe"`
	BarTime   time.Time `json:"bar_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// PriceBarRepository stores OHLC bars and answers the extreme queries behind
// risk/reward measurement.
type PriceBarRepository struct {
	db *DB
}

// NewPriceBarRepository creates a price bar repository.
func NewPriceBarRepository(db *DB) *PriceBarRepository {
	return &PriceBarRepository{db: db}
}

// SaveBar upserts one bar. Re-inserts of the same bar time overwrite, so a
// replayed feed cannot duplicate history.
func (r *PriceBarRepository) SaveBar(ctx context.Context, bar Bar) error {
	query := `
		INSERT INTO price_bars (token, chain, timeframe, bar_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (token, chain, timeframe, bar_time)
		DO UPDATE SET open = $5, high = $6, low = $7, close = $8, volume = $9
	`
	_, err := r.db.Pool.Exec(ctx, query,
		bar.Token, bar.Chain, bar.Timeframe, bar.BarTime,
		bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	return err
}

// Extremes returns the lowest low and highest high over [from, to].
func (r *PriceBarRepository) Extremes(ctx context.Context, token, chain string, tf position.Timeframe, from, to time.Time) (low, high float64, ok bool, err error) {
	query := `
		SELECT MIN(low), MAX(high)
		FROM price_bars
		WHERE token = $1 AND chain = $2 AND timeframe = $3
			AND bar_time >= $4 AND bar_time <= $5
	`
	var lowPtr, highPtr *float64
	err = r.db.Pool.QueryRow(ctx, query, token, chain, string(tf), from, to).Scan(&lowPtr, &highPtr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	if lowPtr == nil || highPtr == nil {
		return 0, 0, false, nil
	}
	return *lowPtr, *highPtr, true, nil
}

// BarCount returns how many bars exist for a key, backing the dormancy check.
func (r *PriceBarRepository) BarCount(ctx context.Context, token, chain string, tf position.Timeframe) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM price_bars WHERE token = $1 AND chain = $2 AND timeframe = $3`,
		token, chain, string(tf)).Scan(&count)
	return count, err
}
