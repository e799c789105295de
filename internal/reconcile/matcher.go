package reconcile

import (
	"fmt"

	"github.com/spokelab/airtime/pkg/diarization"
)

// IdentityID returns the persistent identity identifier for ordinal n.
// Identities are numbered in order of first appearance: IdentityID(0) is
// "SPEAKER_00". Ordinals are never reused or renumbered once handed out.
func IdentityID(n int) string {
	return fmt.Sprintf("SPEAKER_%02d", n)
}

// labelGroup collects all segments of one distinct label, in input order.
// Groups are enumerated in order of the label's first appearance so that
// matching is deterministic run over run.
type labelGroup struct {
	label    string
	segments []diarization.Segment
}

// groupByLabel splits segments into per-label groups preserving
// first-appearance order of the labels.
func groupByLabel(segs []diarization.Segment) []labelGroup {
	idx := make(map[string]int, 8)
	var groups []labelGroup
	for _, s := range segs {
		i, ok := idx[s.Speaker]
		if !ok {
			i = len(groups)
			idx[s.Speaker] = i
			groups = append(groups, labelGroup{label: s.Speaker})
		}
		groups[i].segments = append(groups[i].segments, s)
	}
	return groups
}

// totalOverlap sums the pairwise overlap between every segment of a and every
// segment of b.
func totalOverlap(a, b []diarization.Segment) float64 {
	var total float64
	for _, x := range a {
		for _, y := range b {
			total += diarization.Overlap(x, y)
		}
	}
	return total
}

// Match computes a one-to-one mapping from the run-local labels of newSegs
// onto persistent identity IDs. prevSegs is the previous run's segment list
// already relabeled with identity IDs; known is the number of identities that
// exist so far, which seeds the numbering of any fresh identities this call
// creates.
//
// When prevSegs is empty (first run) every new label receives a fresh identity
// in first-appearance order. Otherwise each new label, enumerated in
// first-appearance order, claims the unclaimed previous label it shares the
// strictly greatest total overlap with; equal totals keep the
// first-enumerated previous label. A new label with zero overlap against
// every unclaimed previous label, or with no previous labels left to claim,
// gets a fresh identity.
//
// The result is total and injective: every new label is mapped, and no
// identity is assigned to two new labels in the same call.
func Match(newSegs, prevSegs []diarization.Segment, known int) map[string]string {
	newGroups := groupByLabel(newSegs)
	prevGroups := groupByLabel(prevSegs)

	mapping := make(map[string]string, len(newGroups))
	created := 0

	if len(prevGroups) == 0 {
		for _, ng := range newGroups {
			mapping[ng.label] = IdentityID(known + created)
			created++
		}
		return mapping
	}

	claimed := make(map[string]bool, len(prevGroups))
	for _, ng := range newGroups {
		var (
			bestLabel string
			bestTotal float64
		)
		for _, pg := range prevGroups {
			if claimed[pg.label] {
				continue
			}
			// Strictly greater keeps ties on the first-enumerated label.
			if total := totalOverlap(ng.segments, pg.segments); total > bestTotal {
				bestTotal = total
				bestLabel = pg.label
			}
		}

		if bestLabel == "" {
			mapping[ng.label] = IdentityID(known + created)
			created++
			continue
		}

		claimed[bestLabel] = true
		mapping[ng.label] = bestLabel
	}

	return mapping
}
