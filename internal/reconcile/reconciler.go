// Package reconcile maintains stable speaker identities across repeated
// diarization runs.
//
// Every run re-diarizes the entire recording from the beginning and labels
// speakers with arbitrary run-local labels, so "SPEAKER_00" in one run and
// "SPEAKER_00" in the next may be different people. The Reconciler bridges
// runs by matching each new run's labels onto the previous run's relabeled
// segments by total temporal overlap (see Match), creating fresh identities
// for labels that match nothing, and recomputing every identity's speaking
// time from the latest run alone.
//
// Two matching mechanisms coexist:
//
//  1. Overlap matching carries identities from run to run. It needs a prior
//     run, so the first run simply mints identities in label order.
//  2. Click matching anchors user-supplied names to identities by temporal
//     proximity: the user records "Alice is speaking now" events, and after
//     every reconciliation each click is re-assigned to the identity whose
//     segments lie closest to its timecode.
//
// Names layer strictly: an explicit Rename always wins, a matched click's
// name applies otherwise, and the identity ID itself is the default. This
// ordering guarantees a user rename is never overwritten by a click
// re-assignment that lands during a later reconciliation.
//
// The Reconciler is safe for concurrent use; all state is guarded by one
// mutex, making each reconciliation atomic with respect to reads.
package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spokelab/airtime/pkg/diarization"
)

// defaultNameSimilarity is the Jaro-Winkler score at or above which two click
// names are treated as the same participant. Higher than typical fuzzy-match
// thresholds because participant names are short.
const defaultNameSimilarity = 0.90

// ErrNoSegments is returned by Reconcile for a run with zero segments. State
// is left untouched; the caller should treat the cycle as "no audio
// processed".
var ErrNoSegments = errors.New("reconcile: run contains no segments")

// ErrUnknownIdentity is returned by Rename when the target identity does not
// exist. Renames never create identities.
var ErrUnknownIdentity = errors.New("reconcile: unknown identity")

// Identity is a point-in-time view of one persistent speaker identity.
type Identity struct {
	// ID is the stable identifier, e.g. "SPEAKER_00". Never reused.
	ID string

	// Name is the resolved display name: the user-set name if any, else the
	// name of the currently matched click if any, else ID.
	Name string

	// UserNamed reports whether Name was set through Rename.
	UserNamed bool

	// Seconds is the cumulative speaking time over the latest run. It is a
	// full recomputation per run, not a running accumulation, because every
	// run covers the whole recording.
	Seconds float64
}

// identity is the internal mutable record behind an Identity view.
type identity struct {
	id        string
	userName  string // set by Rename; wins over clickName
	clickName string // from the currently matched click; recomputed per assignment
	seconds   float64
}

func (x *identity) view() Identity {
	name := x.id
	switch {
	case x.userName != "":
		name = x.userName
	case x.clickName != "":
		name = x.clickName
	}
	return Identity{ID: x.id, Name: name, UserNamed: x.userName != "", Seconds: x.seconds}
}

// Summary describes the outcome of one successful reconciliation.
type Summary struct {
	// Mapping is the run-local label to identity ID assignment used to
	// relabel this run.
	Mapping map[string]string

	// Created lists identity IDs minted by this run, in numbering order.
	Created []string

	// RunSpeakers is the number of distinct labels heard in this run.
	RunSpeakers int

	// TotalSeconds is the summed duration of all segments in this run.
	TotalSeconds float64
}

// Snapshot is a point-in-time copy of the reconciler state. Slices and maps
// are owned by the caller.
type Snapshot struct {
	// Identities in first-appearance order.
	Identities []Identity

	// Clicks in add order, each with its current MatchedID.
	Clicks []Click

	// Timeline is the latest run relabeled with identity IDs.
	Timeline []diarization.Segment

	// Mapping is the label assignment of the latest reconciliation.
	Mapping map[string]string
}

// Option is a functional option for configuring a Reconciler.
type Option func(*Reconciler)

// WithNameSimilarity sets the Jaro-Winkler score at or above which two click
// names are considered the same participant for deduplication. Default: 0.90.
func WithNameSimilarity(threshold float64) Option {
	return func(r *Reconciler) {
		r.nameSimilarity = threshold
	}
}

// Reconciler owns the identity ledger for one session: the ordered identity
// set, the latest relabeled timeline, the current label mapping, and the
// click registry. Safe for concurrent use.
type Reconciler struct {
	mu sync.Mutex

	nameSimilarity float64

	order    []string             // identity IDs in first-appearance order
	byID     map[string]*identity // keyed by identity ID
	timeline []diarization.Segment
	mapping  map[string]string
	clicks   []Click
}

// New returns an empty Reconciler configured with the supplied options.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		nameSimilarity: defaultNameSimilarity,
		byID:           make(map[string]*identity),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile integrates one diarization run: it maps the run's labels onto
// identities, mints identities for unmatched labels, replaces the stored
// timeline with the relabeled run, recomputes every identity's total from
// this run alone (identities absent from the run drop to 0), and re-assigns
// clicks.
//
// A run with zero segments returns ErrNoSegments and changes nothing.
func (r *Reconciler) Reconcile(run []diarization.Segment) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(run) == 0 {
		return Summary{}, ErrNoSegments
	}

	mapping := Match(run, r.timeline, len(r.order))

	groups := groupByLabel(run)
	var created []string
	for _, g := range groups {
		id := mapping[g.label]
		if _, ok := r.byID[id]; !ok {
			r.byID[id] = &identity{id: id}
			r.order = append(r.order, id)
			created = append(created, id)
		}
	}

	relabeled := make([]diarization.Segment, len(run))
	for i, s := range run {
		s.Speaker = mapping[s.Speaker]
		relabeled[i] = s
	}
	r.timeline = relabeled
	r.mapping = mapping

	for _, ident := range r.byID {
		ident.seconds = 0
	}
	var total float64
	for _, s := range relabeled {
		d := s.Duration()
		r.byID[s.Speaker].seconds += d
		total += d
	}

	r.assignClicksLocked()

	return Summary{
		Mapping:      mapping,
		Created:      created,
		RunSpeakers:  len(groups),
		TotalSeconds: total,
	}, nil
}

// Rename sets the display name of an identity. The name sticks: later click
// assignments will not replace it. Returns ErrUnknownIdentity when no such
// identity exists.
func (r *Reconciler) Rename(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("reconcile: rename %s: name must not be empty", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ident, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("reconcile: rename %s: %w", id, ErrUnknownIdentity)
	}
	ident.userName = name
	return nil
}

// AddClick registers a "this person is speaking now" event and immediately
// re-assigns clicks against the latest timeline. When name matches an
// existing click's name (ignoring case, or by Jaro-Winkler similarity at the
// configured threshold) the existing click is re-anchored to the new timecode
// instead of creating a duplicate. Returns the stored click, including its
// MatchedID when a run already exists.
func (r *Reconciler) AddClick(name string, timecode float64) (Click, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Click{}, errors.New("reconcile: click name must not be empty")
	}
	if timecode < 0 {
		return Click{}, fmt.Errorf("reconcile: click timecode %v must not be negative", timecode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	at := -1
	for i := range r.clicks {
		if sameName(r.clicks[i].Name, name, r.nameSimilarity) {
			at = i
			break
		}
	}
	if at >= 0 {
		r.clicks[at].Timecode = timecode
	} else {
		at = len(r.clicks)
		r.clicks = append(r.clicks, Click{
			ID:       fmt.Sprintf("MANUAL_%02d", at),
			Name:     name,
			Timecode: timecode,
		})
	}

	r.assignClicksLocked()
	return r.clicks[at], nil
}

// ClickCount returns the number of registered clicks. Used as the speaker
// count hint for diarization when the caller does not supply one.
func (r *Reconciler) ClickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clicks)
}

// IdentityCount returns the number of known identities.
func (r *Reconciler) IdentityCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Snapshot returns a copy of the full reconciler state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Identities: make([]Identity, 0, len(r.order)),
		Clicks:     make([]Click, len(r.clicks)),
		Timeline:   make([]diarization.Segment, len(r.timeline)),
	}
	for _, id := range r.order {
		snap.Identities = append(snap.Identities, r.byID[id].view())
	}
	copy(snap.Clicks, r.clicks)
	copy(snap.Timeline, r.timeline)
	if r.mapping != nil {
		snap.Mapping = make(map[string]string, len(r.mapping))
		for k, v := range r.mapping {
			snap.Mapping[k] = v
		}
	}
	return snap
}

// Reset clears identities, timeline, mapping, and clicks. The next
// reconciliation bootstraps identities from "SPEAKER_00" again.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = nil
	r.byID = make(map[string]*identity)
	r.timeline = nil
	r.mapping = nil
	r.clicks = nil
}
