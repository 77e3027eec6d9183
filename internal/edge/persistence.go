package edge

import (
	"encoding/json"
	"time"
)

// statJSON mirrors Stat with the running accumulators included so a restored
// stat keeps updating incrementally instead of restarting from zero.
type statJSON struct {
	Pattern   string `json:"pattern"`
	Action    string `json:"action"`
	Signature string `json:"signature"`

	N      int     `json:"n"`
	MeanRR float64 `json:"mean_rr"`
	M2     float64 `json:"m2"`

	RRSamples     []float64 `json:"rr_samples,omitempty"`
	MeanHoldHours float64   `json:"mean_hold_hours"`

	Breakdown Breakdown  `json:"breakdown"`
	Decay     Descriptor `json:"decay"`
	Series    []Snapshot `json:"series,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// MarshalJSON serializes the full running state.
func (s *Stat) MarshalJSON() ([]byte, error) {
	return json.Marshal(statJSON{
		Pattern:       s.Pattern,
		Action:        s.Action,
		Signature:     s.Signature,
		N:             s.N,
		MeanRR:        s.MeanRR,
		M2:            s.m2,
		RRSamples:     s.rrSamples,
		MeanHoldHours: s.meanHoldHours,
		Breakdown:     s.Breakdown,
		Decay:         s.Decay,
		Series:        s.Series,
		UpdatedAt:     s.UpdatedAt,
	})
}

// UnmarshalJSON restores the full running state.
func (s *Stat) UnmarshalJSON(data []byte) error {
	var sj statJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}
	s.Pattern = sj.Pattern
	s.Action = sj.Action
	s.Signature = sj.Signature
	s.N = sj.N
	s.MeanRR = sj.MeanRR
	s.m2 = sj.M2
	s.rrSamples = sj.RRSamples
	s.meanHoldHours = sj.MeanHoldHours
	s.Breakdown = sj.Breakdown
	s.Decay = sj.Decay
	s.Series = sj.Series
	s.UpdatedAt = sj.UpdatedAt
	return nil
}
