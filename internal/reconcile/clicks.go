package reconcile

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/spokelab/airtime/pkg/diarization"
)

// Click is a user-recorded "this person is speaking right now" event. Clicks
// anchor human names to identities by temporal proximity: a click is matched
// to whichever identity's segments in the latest run lie closest to its
// timecode. Clicks survive reconciliations and are re-assigned after each one,
// so a name follows its speaker even when the diarization engine reshuffles
// labels between runs.
type Click struct {
	// ID is the registry identifier, assigned sequentially as "MANUAL_00",
	// "MANUAL_01", … in add order.
	ID string

	// Name is the participant name the user attached to the event.
	Name string

	// Timecode is the recording-relative moment of the event in seconds.
	Timecode float64

	// MatchedID is the identity this click is currently anchored to, or ""
	// while unmatched (no run yet, or more clicks than heard speakers).
	MatchedID string
}

// distanceToSegments returns 0 when t falls inside any of the segments,
// otherwise the gap in seconds to the nearest segment edge. Callers must not
// pass an empty slice.
func distanceToSegments(t float64, segs []diarization.Segment) float64 {
	best := -1.0
	for _, s := range segs {
		if s.Start <= t && t <= s.End {
			return 0
		}
		d := t - s.End
		if t < s.Start {
			d = s.Start - t
		}
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

// sameName reports whether two click names refer to the same participant:
// equal ignoring case and surrounding space, or Jaro-Winkler similarity at or
// above threshold.
func sameName(a, b string, threshold float64) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	return matchr.JaroWinkler(a, b, false) >= threshold
}

// assignClicksLocked recomputes the click-to-identity assignment against the
// latest relabeled timeline and applies click names to identities that are
// not user-named. Assignment is greedy by ascending temporal distance with
// deterministic tie-breaks (click add order, then identity first-seen order)
// and strictly one-to-one. Caller must hold r.mu.
func (r *Reconciler) assignClicksLocked() {
	for i := range r.clicks {
		r.clicks[i].MatchedID = ""
	}
	for _, ident := range r.byID {
		ident.clickName = ""
	}
	if len(r.clicks) == 0 || len(r.timeline) == 0 {
		return
	}

	segsByID := make(map[string][]diarization.Segment, len(r.order))
	for _, s := range r.timeline {
		segsByID[s.Speaker] = append(segsByID[s.Speaker], s)
	}

	type pair struct {
		cost  float64
		click int
		ident int
	}
	var pairs []pair
	for ci := range r.clicks {
		for ii, id := range r.order {
			segs := segsByID[id]
			if len(segs) == 0 {
				// Identity absent from the latest run; nothing to anchor to.
				continue
			}
			pairs = append(pairs, pair{
				cost:  distanceToSegments(r.clicks[ci].Timecode, segs),
				click: ci,
				ident: ii,
			})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].cost != pairs[j].cost {
			return pairs[i].cost < pairs[j].cost
		}
		if pairs[i].click != pairs[j].click {
			return pairs[i].click < pairs[j].click
		}
		return pairs[i].ident < pairs[j].ident
	})

	usedClick := make(map[int]bool, len(r.clicks))
	usedIdent := make(map[int]bool, len(r.order))
	for _, p := range pairs {
		if usedClick[p.click] || usedIdent[p.ident] {
			continue
		}
		usedClick[p.click] = true
		usedIdent[p.ident] = true

		c := &r.clicks[p.click]
		c.MatchedID = r.order[p.ident]
		r.byID[c.MatchedID].clickName = c.Name
	}
}
