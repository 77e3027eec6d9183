package position

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Errors for the position book
var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionAlreadyExists = errors.New("position already exists for token/chain/timeframe")
)

// Repository defines the persistence interface for positions.
type Repository interface {
	CreatePosition(ctx context.Context, pos *Position) error
	UpdatePosition(ctx context.Context, pos *Position) error
	GetPosition(ctx context.Context, token, chain string, tf Timeframe) (*Position, error)
	ListPositions(ctx context.Context, tf Timeframe) ([]*Position, error)
	SaveCompletedTrade(ctx context.Context, positionID string, trade CompletedTrade) error
}

// Book holds every position in memory, backed by an optional repository.
// Positions are singly-owned: TryAcquire hands exclusive access to one tick
// pipeline at a time, so two closures for the same position can never race.
type Book struct {
	mu     sync.RWMutex
	repo   Repository
	logger zerolog.Logger

	positions map[string]*Position // key = token/chain/timeframe
	busy      map[string]*sync.Mutex
}

// NewBook creates a position book. repo may be nil for memory-only operation.
func NewBook(repo Repository, logger zerolog.Logger) *Book {
	return &Book{
		repo:      repo,
		logger:    logger.With().Str("component", "PositionBook").Logger(),
		positions: make(map[string]*Position),
		busy:      make(map[string]*sync.Mutex),
	}
}

func key(token, chain string, tf Timeframe) string {
	return token + "/" + chain + "/" + string(tf)
}

// CreateFamily creates the four sibling positions for an approved candidate
// atomically: either all four exist afterwards or none do. Siblings share the
// entry context but carry independent allocation caps and state.
func (b *Book) CreateFamily(ctx context.Context, token, chain string, caps map[Timeframe]float64, ectx EntryContext) ([]*Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, tf := range AllTimeframes() {
		if _, exists := b.positions[key(token, chain, tf)]; exists {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrPositionAlreadyExists, token, chain, tf)
		}
	}

	family := make([]*Position, 0, len(AllTimeframes()))
	for _, tf := range AllTimeframes() {
		pos := New(uuid.NewString(), token, chain, tf, caps[tf], ectx)
		family = append(family, pos)
	}

	if b.repo != nil {
		for i, pos := range family {
			if err := b.repo.CreatePosition(ctx, pos); err != nil {
				// Roll back the siblings already persisted so the family
				// is all-or-nothing.
				for j := 0; j < i; j++ {
					family[j].Status = StatusArchived
					_ = b.repo.UpdatePosition(ctx, family[j])
				}
				return nil, fmt.Errorf("failed to persist position family: %w", err)
			}
		}
	}

	for _, pos := range family {
		b.positions[key(pos.Token, pos.Chain, pos.Timeframe)] = pos
		b.busy[key(pos.Token, pos.Chain, pos.Timeframe)] = &sync.Mutex{}
	}

	b.logger.Info().
		Str("token", token).
		Str("chain", chain).
		Str("curator", ectx.Curator).
		Msg("Created position family across all timeframes")

	return family, nil
}

// Get returns the position for a key, loading from the repository on a miss.
func (b *Book) Get(ctx context.Context, token, chain string, tf Timeframe) (*Position, error) {
	b.mu.RLock()
	pos, ok := b.positions[key(token, chain, tf)]
	b.mu.RUnlock()
	if ok {
		return pos, nil
	}

	if b.repo == nil {
		return nil, ErrPositionNotFound
	}
	pos, err := b.repo.GetPosition(ctx, token, chain, tf)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}

	b.mu.Lock()
	b.positions[key(token, chain, tf)] = pos
	if _, ok := b.busy[key(token, chain, tf)]; !ok {
		b.busy[key(token, chain, tf)] = &sync.Mutex{}
	}
	b.mu.Unlock()
	return pos, nil
}

// ByTimeframe returns all in-memory positions for one timeframe.
func (b *Book) ByTimeframe(tf Timeframe) []*Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Position
	for _, pos := range b.positions {
		if pos.Timeframe == tf {
			out = append(out, pos)
		}
	}
	return out
}

// ActivePositions returns deep copies of every position currently holding
// tokens. Copies, because callers aggregate across timeframes while each
// timeframe's pipeline may be mid-mutation on its own positions.
func (b *Book) ActivePositions() []*Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Position
	for _, pos := range b.positions {
		if cp := pos.Clone(); cp.Status == StatusActive {
			out = append(out, cp)
		}
	}
	return out
}

// SnapshotByTimeframe returns deep copies of one timeframe's positions for
// read-only consumers. The live structs stay private to the tick pipeline.
func (b *Book) SnapshotByTimeframe(tf Timeframe) []*Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Position
	for _, pos := range b.positions {
		if pos.Timeframe == tf {
			out = append(out, pos.Clone())
		}
	}
	return out
}

// TryAcquire attempts to take the per-position pipeline lock without blocking.
// Returns false when a previous tick's pipeline is still in flight, in which
// case the caller must skip the position this tick.
func (b *Book) TryAcquire(pos *Position) bool {
	b.mu.RLock()
	m, ok := b.busy[key(pos.Token, pos.Chain, pos.Timeframe)]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return m.TryLock()
}

// Release returns the per-position pipeline lock.
func (b *Book) Release(pos *Position) {
	b.mu.RLock()
	m, ok := b.busy[key(pos.Token, pos.Chain, pos.Timeframe)]
	b.mu.RUnlock()
	if ok {
		m.Unlock()
	}
}

// Persist writes the position's current state through to the repository.
func (b *Book) Persist(ctx context.Context, pos *Position) error {
	if b.repo == nil {
		return nil
	}
	if err := b.repo.UpdatePosition(ctx, pos); err != nil {
		b.logger.Error().
			Err(err).
			Str("position_id", pos.ID).
			Str("timeframe", string(pos.Timeframe)).
			Msg("Failed to persist position")
		return fmt.Errorf("failed to persist position %s: %w", pos.ID, err)
	}
	return nil
}

// PersistTrade stores a completed trade record.
func (b *Book) PersistTrade(ctx context.Context, pos *Position, trade CompletedTrade) error {
	if b.repo == nil {
		return nil
	}
	return b.repo.SaveCompletedTrade(ctx, pos.ID, trade)
}

// LoadAll warms the book from the repository at startup.
func (b *Book) LoadAll(ctx context.Context) error {
	if b.repo == nil {
		return nil
	}

	total := 0
	for _, tf := range AllTimeframes() {
		positions, err := b.repo.ListPositions(ctx, tf)
		if err != nil {
			return fmt.Errorf("failed to load positions for %s: %w", tf, err)
		}
		b.mu.Lock()
		for _, pos := range positions {
			k := key(pos.Token, pos.Chain, pos.Timeframe)
			b.positions[k] = pos
			if _, ok := b.busy[k]; !ok {
				b.busy[k] = &sync.Mutex{}
			}
		}
		b.mu.Unlock()
		total += len(positions)
	}

	b.logger.Info().Int("count", total).Msg("Loaded positions into book")
	return nil
}

// Count returns the number of positions in memory.
func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}
