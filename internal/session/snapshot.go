package session

import (
	"github.com/spokelab/airtime/pkg/diarization"
)

// Speaker is one row of the speakers snapshot: a persistent identity with its
// cumulative speaking time, or a zero-time placeholder for a click that has
// not matched any identity yet.
type Speaker struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Time float64 `json:"time"`
}

// Snapshot is the client-facing view of the session, shaped for direct JSON
// serialisation. Row order is not guaranteed; clients sort for display.
type Snapshot struct {
	Speakers  []Speaker             `json:"speakers"`
	TotalTime float64               `json:"totalTime"`
	Timeline  []diarization.Segment `json:"timeline"`
	Elapsed   float64               `json:"elapsed"`
	Paused    bool                  `json:"paused"`
}

// Speakers assembles the current snapshot: one row per known identity plus a
// zero-time placeholder per unmatched click, the summed speaking time, the
// latest relabeled timeline, and the pause-adjusted elapsed seconds.
func (s *Session) Speakers() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.rec.Snapshot()
	snap := Snapshot{
		Speakers: make([]Speaker, 0, len(rs.Identities)+len(rs.Clicks)),
		Timeline: rs.Timeline,
		Elapsed:  s.elapsedLocked(),
		Paused:   s.paused,
	}
	for _, ident := range rs.Identities {
		snap.Speakers = append(snap.Speakers, Speaker{ID: ident.ID, Name: ident.Name, Time: ident.Seconds})
		snap.TotalTime += ident.Seconds
	}
	for _, c := range rs.Clicks {
		if c.MatchedID == "" {
			snap.Speakers = append(snap.Speakers, Speaker{ID: c.ID, Name: c.Name})
		}
	}
	return snap
}
