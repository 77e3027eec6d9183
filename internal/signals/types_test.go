package signals

import (
	"errors"
	"testing"

	"tokenfolio/internal/position"
)

func validSnapshot() *Snapshot {
	return &Snapshot{
		Token:      "TKN",
		Chain:      "solana",
		Timeframe:  position.Timeframe1h,
		State:      position.StateS2,
		EntryScore: 0.6,
		ExitScore:  0.4,
		Price:      1.25,
		BarsCount:  400,
	}
}

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Snapshot)
		wantErr error
	}{
		{"valid", func(*Snapshot) {}, nil},
		{"missing token", func(s *Snapshot) { s.Token = "" }, ErrMissingToken},
		{"missing chain", func(s *Snapshot) { s.Chain = "" }, ErrMissingChain},
		{"bad timeframe", func(s *Snapshot) { s.Timeframe = "2h" }, ErrInvalidTimeframe},
		{"state below range", func(s *Snapshot) { s.State = -1 }, ErrInvalidState},
		{"state above range", func(s *Snapshot) { s.State = 4 }, ErrInvalidState},
		{"zero price", func(s *Snapshot) { s.Price = 0 }, ErrNoPrice},
		{"negative price", func(s *Snapshot) { s.Price = -1 }, ErrNoPrice},
		{"entry score high", func(s *Snapshot) { s.EntryScore = 1.2 }, ErrScoreOutOfRange},
		{"exit score negative", func(s *Snapshot) { s.ExitScore = -0.1 }, ErrScoreOutOfRange},
	}
	for _, tt := range tests {
		snap := validSnapshot()
		tt.mutate(snap)
		err := snap.Validate()
		if tt.wantErr == nil {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestSnapshotValidateNil(t *testing.T) {
	var snap *Snapshot
	if err := snap.Validate(); err == nil {
		t.Error("nil snapshot must fail validation")
	}
}

func TestSnapshotKey(t *testing.T) {
	snap := validSnapshot()
	if snap.Key() != "TKN/solana/1h" {
		t.Errorf("key = %q, want TKN/solana/1h", snap.Key())
	}
}

func TestStaticSourceFiltersTimeframe(t *testing.T) {
	hourly := validSnapshot()
	daily := validSnapshot()
	daily.Timeframe = position.Timeframe1d

	src := &StaticSource{Snapshots: map[string]*Snapshot{
		hourly.Key(): hourly,
		daily.Key():  daily,
	}}

	got := src.Fetch(position.Timeframe1h)
	if len(got) != 1 {
		t.Fatalf("fetched %d snapshots, want 1", len(got))
	}
	if _, ok := got[hourly.Key()]; !ok {
		t.Error("hourly snapshot missing from fetch")
	}
}
