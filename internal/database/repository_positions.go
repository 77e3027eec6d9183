package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tokenfolio/internal/position"
)

// PositionRepository persists positions and completed trades.
type PositionRepository struct {
	db *DB
}

// NewPositionRepository creates a position repository.
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// CreatePosition inserts a new position row.
func (r *PositionRepository) CreatePosition(ctx context.Context, pos *position.Position) error {
	ctxJSON, histJSON, err := marshalPositionBlobs(pos)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO positions (id, token, chain, timeframe, status,
			total_quantity, total_investment, total_extracted,
			total_tokens_bought, total_tokens_sold, allocation_cap,
			entry_context, execution_history, bars_count,
			first_entry_at, closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		pos.ID, pos.Token, pos.Chain, string(pos.Timeframe), pos.Status,
		pos.TotalQuantity, pos.TotalInvestment, pos.TotalExtracted,
		pos.TotalTokensBought, pos.TotalTokensSold, pos.AllocationCap,
		ctxJSON, histJSON, pos.BarsCount,
		nullableTime(pos.FirstEntryAt), pos.ClosedAt, pos.CreatedAt, pos.UpdatedAt,
	)
	return err
}

// UpdatePosition writes the position's full mutable state.
func (r *PositionRepository) UpdatePosition(ctx context.Context, pos *position.Position) error {
	_, histJSON, err := marshalPositionBlobs(pos)
	if err != nil {
		return err
	}

	query := `
		UPDATE positions
		SET status = $2, total_quantity = $3, total_investment = $4,
			total_extracted = $5, total_tokens_bought = $6, total_tokens_sold = $7,
			allocation_cap = $8, execution_history = $9, bars_count = $10,
			first_entry_at = $11, closed_at = $12, updated_at = $13
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		pos.ID, pos.Status, pos.TotalQuantity, pos.TotalInvestment,
		pos.TotalExtracted, pos.TotalTokensBought, pos.TotalTokensSold,
		pos.AllocationCap, histJSON, pos.BarsCount,
		nullableTime(pos.FirstEntryAt), pos.ClosedAt, pos.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return position.ErrPositionNotFound
	}
	return nil
}

// GetPosition loads one position with its completed trades.
func (r *PositionRepository) GetPosition(ctx context.Context, token, chain string, tf position.Timeframe) (*position.Position, error) {
	query := positionSelect + ` WHERE token = $1 AND chain = $2 AND timeframe = $3`
	pos, err := r.scanPosition(r.db.Pool.QueryRow(ctx, query, token, chain, string(tf)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, position.ErrPositionNotFound
		}
		return nil, err
	}
	if err := r.loadTrades(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// ListPositions loads every non-archived position for a timeframe.
func (r *PositionRepository) ListPositions(ctx context.Context, tf position.Timeframe) ([]*position.Position, error) {
	query := positionSelect + ` WHERE timeframe = $1 AND status != 'ARCHIVED' ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, query, string(tf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*position.Position
	for rows.Next() {
		pos, err := r.scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, pos := range out {
		if err := r.loadTrades(ctx, pos); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveCompletedTrade inserts a completed trade. The primary key on trade ID
// makes the insert idempotent against replayed closures.
func (r *PositionRepository) SaveCompletedTrade(ctx context.Context, positionID string, trade position.CompletedTrade) error {
	ctxJSON, err := json.Marshal(trade.Context)
	if err != nil {
		return fmt.Errorf("marshal trade context: %w", err)
	}

	query := `
		INSERT INTO completed_trades (id, position_id, entry_price, exit_price,
			entry_at, exit_at, return_pct, max_drawdown, max_gain, risk_reward,
			has_risk_reward, entry_context, closed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.Pool.Exec(ctx, query,
		trade.ID, positionID, trade.EntryPrice, trade.ExitPrice,
		trade.EntryAt, trade.ExitAt, trade.Return, trade.MaxDrawdown,
		trade.MaxGain, trade.RiskReward, trade.HasRiskReward,
		ctxJSON, string(trade.ClosedBy),
	)
	return err
}

const positionSelect = `
	SELECT id, token, chain, timeframe, status,
		total_quantity, total_investment, total_extracted,
		total_tokens_bought, total_tokens_sold, allocation_cap,
		entry_context, execution_history, bars_count,
		first_entry_at, closed_at, created_at, updated_at
	FROM positions`

func (r *PositionRepository) scanPosition(row pgx.Row) (*position.Position, error) {
	var (
		pos          position.Position
		tf           string
		ctxJSON      []byte
		histJSON     []byte
		firstEntryAt *time.Time
	)
	err := row.Scan(
		&pos.ID, &pos.Token, &pos.Chain, &tf, &pos.Status,
		&pos.TotalQuantity, &pos.TotalInvestment, &pos.TotalExtracted,
		&pos.TotalTokensBought, &pos.TotalTokensSold, &pos.AllocationCap,
		&ctxJSON, &histJSON, &pos.BarsCount,
		&firstEntryAt, &pos.ClosedAt, &pos.CreatedAt, &pos.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pos.Timeframe = position.Timeframe(tf)
	if firstEntryAt != nil {
		pos.FirstEntryAt = *firstEntryAt
	}
	if err := json.Unmarshal(ctxJSON, &pos.Context); err != nil {
		return nil, fmt.Errorf("unmarshal entry context for %s: %w", pos.ID, err)
	}
	if err := json.Unmarshal(histJSON, &pos.History); err != nil {
		return nil, fmt.Errorf("unmarshal execution history for %s: %w", pos.ID, err)
	}
	if pos.History.Entries == nil {
		pos.History = position.NewExecutionHistory()
	}
	return &pos, nil
}

func (r *PositionRepository) loadTrades(ctx context.Context, pos *position.Position) error {
	query := `
		SELECT id, entry_price, exit_price, entry_at, exit_at,
			return_pct, max_drawdown, max_gain, risk_reward, has_risk_reward,
			entry_context, closed_by
		FROM completed_trades
		WHERE position_id = $1
		ORDER BY exit_at
	`
	rows, err := r.db.Pool.Query(ctx, query, pos.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			trade    position.CompletedTrade
			ctxJSON  []byte
			closedBy string
		)
		err := rows.Scan(
			&trade.ID, &trade.EntryPrice, &trade.ExitPrice, &trade.EntryAt, &trade.ExitAt,
			&trade.Return, &trade.MaxDrawdown, &trade.MaxGain, &trade.RiskReward, &trade.HasRiskReward,
			&ctxJSON, &closedBy,
		)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(ctxJSON, &trade.Context); err != nil {
			return fmt.Errorf("unmarshal trade context for %s: %w", trade.ID, err)
		}
		trade.ClosedBy = position.ActionType(closedBy)
		pos.CompletedTrades = append(pos.CompletedTrades, trade)
	}
	return rows.Err()
}

func marshalPositionBlobs(pos *position.Position) (ctxJSON, histJSON []byte, err error) {
	ctxJSON, err = json.Marshal(pos.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal entry context: %w", err)
	}
	histJSON, err = json.Marshal(pos.History)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal execution history: %w", err)
	}
	return ctxJSON, histJSON, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
