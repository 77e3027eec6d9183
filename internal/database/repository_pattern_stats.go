package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tokenfolio/internal/edge"
)

// PatternStatRepository persists pattern scope stats as JSONB blobs. Stats are
// append-mostly running state, so whole-row replacement is fine.
type PatternStatRepository struct {
	db      *DB
	timeout time.Duration
}

// NewPatternStatRepository creates a pattern stat repository.
func NewPatternStatRepository(db *DB) *PatternStatRepository {
	return &PatternStatRepository{db: db, timeout: 5 * time.Second}
}

// SaveStat upserts one scope's running state.
func (r *PatternStatRepository) SaveStat(stat *edge.Stat) error {
	state, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("marshal pattern stat: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	query := `
		INSERT INTO pattern_stats (pattern, action, signature, state, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pattern, action, signature)
		DO UPDATE SET state = $4, updated_at = $5
	`
	_, err = r.db.Pool.Exec(ctx, query,
		stat.Pattern, stat.Action, stat.Signature, state, stat.UpdatedAt)
	return err
}

// LoadStats returns every persisted scope stat.
func (r *PatternStatRepository) LoadStats() ([]*edge.Stat, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, `SELECT state FROM pattern_stats`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*edge.Stat
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, err
		}
		stat := &edge.Stat{}
		if err := json.Unmarshal(state, stat); err != nil {
			return nil, fmt.Errorf("unmarshal pattern stat: %w", err)
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}
