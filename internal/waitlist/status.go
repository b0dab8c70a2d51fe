package waitlist

import "encoding/json"

// Verdict is the outcome of a check
type Verdict string

const (
	Ready   Verdict = "ready"
	Waiting Verdict = "waiting"
)

// Status is what Check reports. Rank is only meaningful while Waiting:
// 0 means the next seat to open admits the user.
type Status struct {
	Verdict Verdict
	Rank    int64
}

func readyStatus() Status { return Status{Verdict: Ready} }

func waitingStatus(rank int64) Status {
	if rank < 0 {
		rank = 0
	}
	return Status{Verdict: Waiting, Rank: rank}
}

// IsReady reports whether the user may proceed
func (s Status) IsReady() bool { return s.Verdict == Ready }

type statusJSON struct {
	Status Verdict `json:"status"`
	Rank   *int64  `json:"rank,omitempty"`
}

// MarshalJSON emits {"status":"ready"} or {"status":"waiting","rank":N}
func (s Status) MarshalJSON() ([]byte, error) {
	out := statusJSON{Status: s.Verdict}
	if s.Verdict == Waiting {
		rank := s.Rank
		out.Rank = &rank
	}
	return json.Marshal(out)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var in statusJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	s.Verdict = in.Status
	s.Rank = 0
	if in.Rank != nil {
		s.Rank = *in.Rank
	}
	return nil
}
