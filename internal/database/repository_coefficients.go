package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tokenfolio/internal/learning"
	"tokenfolio/internal/metrics"
)

// CoefficientRepository persists learned sizing coefficients.
type CoefficientRepository struct {
	db *DB
}

// NewCoefficientRepository creates a coefficient repository.
func NewCoefficientRepository(db *DB) *CoefficientRepository {
	return &CoefficientRepository{db: db}
}

// Get loads one coefficient record, or nil when the key was never observed.
func (r *CoefficientRepository) Get(ctx context.Context, key learning.Key) (*learning.Record, error) {
	query := `
		SELECT weight, rr_short, rr_long, n, updated_at
		FROM coefficients
		WHERE module = $1 AND kind = $2 AND dimension = $3 AND value = $4
	`
	rec := &learning.Record{Key: key}
	err := r.db.Pool.QueryRow(ctx, query, key.Module, key.Kind, key.Dimension, key.Value).
		Scan(&rec.Weight, &rec.RRShort, &rec.RRLong, &rec.N, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Upsert writes one coefficient record.
func (r *CoefficientRepository) Upsert(ctx context.Context, rec *learning.Record) error {
	query := `
		INSERT INTO coefficients (module, kind, dimension, value, weight, rr_short, rr_long, n, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (module, kind, dimension, value)
		DO UPDATE SET weight = $5, rr_short = $6, rr_long = $7, n = $8, updated_at = $9
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.Key.Module, rec.Key.Kind, rec.Key.Dimension, rec.Key.Value,
		rec.Weight, rec.RRShort, rec.RRLong, rec.N, rec.UpdatedAt,
	)
	if err == nil {
		metrics.CoefficientUpdatesTotal.Inc()
	}
	return err
}

// List returns every coefficient record under a module.
func (r *CoefficientRepository) List(ctx context.Context, module string) ([]*learning.Record, error) {
	query := `
		SELECT module, kind, dimension, value, weight, rr_short, rr_long, n, updated_at
		FROM coefficients
		WHERE module = $1
		ORDER BY kind, dimension, value
	`
	rows, err := r.db.Pool.Query(ctx, query, module)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*learning.Record
	for rows.Next() {
		rec := &learning.Record{}
		err := rows.Scan(
			&rec.Key.Module, &rec.Key.Kind, &rec.Key.Dimension, &rec.Key.Value,
			&rec.Weight, &rec.RRShort, &rec.RRLong, &rec.N, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
