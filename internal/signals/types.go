package signals

import (
	"errors"
	"fmt"
	"time"

	"tokenfolio/internal/position"
)

// Errors for signal validation
var (
	ErrMissingToken     = errors.New("signal missing token")
	ErrMissingChain     = errors.New("signal missing chain")
	ErrInvalidTimeframe = errors.New("signal has invalid timeframe")
	ErrInvalidState     = errors.New("signal state out of range")
	ErrNoPrice          = errors.New("signal missing price")
	ErrScoreOutOfRange  = errors.New("signal score outside [0,1]")
)

// Snapshot is the structured trend-signal payload for one position, refreshed
// once per tick per timeframe. It is read-only for everything downstream of
// the ingestion boundary; Validate is called exactly there.
type Snapshot struct {
	Token     string             `json:"token"`
	Chain     string             `json:"chain"`
	Timeframe position.Timeframe `json:"timeframe"`

	State position.TrendState `json:"state"`

	// Action flags set by the upstream trend engine.
	InitialEntry  bool `json:"initial_entry"`
	RetestEntry   bool `json:"retest_entry"`
	DipEntry      bool `json:"dip_entry"`
	Trim          bool `json:"trim"`
	EmergencyExit bool `json:"emergency_exit"`
	OverrideExit  bool `json:"override_exit"` // global kill switch, highest precedence
	Reclaim       bool `json:"reclaim"`

	// ReclaimAt identifies the reclaim event; a reclaim entry fires at most
	// once per distinct timestamp.
	ReclaimAt time.Time `json:"reclaim_at,omitempty"`

	// Continuous scores in [0,1].
	EntryScore float64 `json:"entry_score"` // aggressiveness A
	ExitScore  float64 `json:"exit_score"`  // exit aggressiveness E

	Price        float64 `json:"price"`
	SupportLevel float64 `json:"support_level,omitempty"` // active S/R level price
	BarsCount    int     `json:"bars_count"`

	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks the payload at the ingestion boundary. A snapshot that
// fails validation is treated as a hold for its position, never as a crash.
func (s *Snapshot) Validate() error {
	if s == nil {
		return errors.New("nil signal snapshot")
	}
	if s.Token == "" {
		return ErrMissingToken
	}
	if s.Chain == "" {
		return ErrMissingChain
	}
	if !s.Timeframe.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTimeframe, s.Timeframe)
	}
	if s.State < position.StateS0 || s.State > position.StateS3 {
		return fmt.Errorf("%w: %d", ErrInvalidState, s.State)
	}
	if s.Price <= 0 {
		return ErrNoPrice
	}
	if s.EntryScore < 0 || s.EntryScore > 1 {
		return fmt.Errorf("%w: entry_score=%f", ErrScoreOutOfRange, s.EntryScore)
	}
	if s.ExitScore < 0 || s.ExitScore > 1 {
		return fmt.Errorf("%w: exit_score=%f", ErrScoreOutOfRange, s.ExitScore)
	}
	return nil
}

// Key returns the position key this snapshot belongs to.
func (s *Snapshot) Key() string {
	return s.Token + "/" + s.Chain + "/" + string(s.Timeframe)
}

// Source supplies the latest snapshot per position for a timeframe tick.
type Source interface {
	// Fetch returns the freshest snapshots for all tracked positions on the
	// given timeframe. A position absent from the result holds this tick.
	Fetch(tf position.Timeframe) map[string]*Snapshot
}

// StaticSource is a fixed in-memory source used by tests and paper trading.
type StaticSource struct {
	Snapshots map[string]*Snapshot
}

// Fetch returns the stored snapshots matching the timeframe.
func (s *StaticSource) Fetch(tf position.Timeframe) map[string]*Snapshot {
	out := make(map[string]*Snapshot)
	for k, snap := range s.Snapshots {
		if snap.Timeframe == tf {
			out[k] = snap
		}
	}
	return out
}
