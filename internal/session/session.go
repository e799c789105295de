// Package session owns the state of one live meeting: the growing audio
// buffer, the wall clock with pause bookkeeping, the registry of submitted
// diarization jobs, and the identity reconciler.
//
// A session is a single-writer system. One diarization job may be in flight
// at a time; triggering while a job is pending fails fast with
// [ErrJobPending] rather than queueing. Job results arrive asynchronously
// from two paths (bounded polling and webhook delivery) and are applied
// idempotently by job ID, so whichever delivery lands first wins and the
// other becomes a counted no-op.
//
// All methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spokelab/airtime/internal/observe"
	"github.com/spokelab/airtime/internal/reconcile"
	"github.com/spokelab/airtime/internal/resilience"
	"github.com/spokelab/airtime/pkg/diarization"
)

// defaultMaxBufferBytes caps the audio buffer at 512 MiB, roughly four hours
// of 16 kHz 16-bit mono WAV.
const defaultMaxBufferBytes = 512 << 20

var (
	// ErrEmptyBuffer is returned by Trigger when no audio has been buffered.
	ErrEmptyBuffer = errors.New("session: audio buffer is empty")

	// ErrJobPending is returned by Trigger while a previously submitted job
	// has not yet reached a terminal state.
	ErrJobPending = errors.New("session: diarization job already in flight")

	// ErrBufferFull is returned by AddChunk when appending would exceed the
	// configured buffer cap.
	ErrBufferFull = errors.New("session: audio buffer cap reached")

	// ErrUnknownJob is returned by ApplyResult for a job ID this session
	// never submitted.
	ErrUnknownJob = errors.New("session: unknown job")
)

// Config configures a [Session].
type Config struct {
	// Provider performs diarization. Required.
	Provider diarization.Provider

	// ProviderName labels log entries and metrics, e.g. "pyannote".
	// Defaults to "diarization" if empty.
	ProviderName string

	// MaxBufferBytes caps the audio buffer. Defaults to 512 MiB if zero.
	MaxBufferBytes int

	// Breaker guards job submissions. A default breaker is created if nil.
	Breaker *resilience.Breaker

	// Metrics receives session instrumentation. Defaults to
	// [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics

	// OnUpdate is called after every state change that affects the speakers
	// snapshot (result applied, rename, click, pause, resume, reset). Called
	// without internal locks held; it may call back into the session. May be
	// nil.
	OnUpdate func()
}

// Session is the single mutable state holder for one meeting.
type Session struct {
	provider     diarization.Provider
	providerName string
	maxBuffer    int
	breaker      *resilience.Breaker
	metrics      *observe.Metrics
	onUpdate     func()

	ctx       context.Context // lifetime of background waiters
	cancel    context.CancelFunc
	closeOnce sync.Once

	now func() time.Time

	mu           sync.Mutex
	buffer       []byte
	startedAt    time.Time // zero until the first chunk arrives
	paused       bool
	pausedSince  time.Time
	pausedTotal  time.Duration
	pendingJobID string // non-empty while a job is in flight ("" after terminal)
	submitting   bool   // guards the window between Trigger and job registration
	epoch        int    // bumped by Reset; orphans submissions that raced it
	jobs         map[string]*jobRecord
	rec          *reconcile.Reconciler
}

// jobRecord tracks one submitted diarization job. The applied flag makes
// result delivery idempotent across the webhook/poll race.
type jobRecord struct {
	submittedAt time.Time
	applied     bool
}

// New creates a [Session] with the given configuration.
func New(cfg Config) (*Session, error) {
	if cfg.Provider == nil {
		return nil, errors.New("session: provider must not be nil")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "diarization"
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = defaultMaxBufferBytes
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: cfg.ProviderName})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		maxBuffer:    cfg.MaxBufferBytes,
		breaker:      cfg.Breaker,
		metrics:      cfg.Metrics,
		onUpdate:     cfg.OnUpdate,
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
		jobs:         make(map[string]*jobRecord),
		rec:          reconcile.New(),
	}, nil
}

// Close stops background result waiters. It does not reset session state.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
}

// AddChunk appends a copy of chunk to the audio buffer and returns the total
// buffered size. The first chunk starts the meeting wall clock.
func (s *Session) AddChunk(ctx context.Context, chunk []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer)+len(chunk) > s.maxBuffer {
		return len(s.buffer), fmt.Errorf("session: add chunk of %d bytes to %d buffered: %w",
			len(chunk), len(s.buffer), ErrBufferFull)
	}
	if s.startedAt.IsZero() && len(chunk) > 0 {
		s.startedAt = s.now()
		observe.Logger(ctx).Info("meeting clock started", "first_chunk_bytes", len(chunk))
	}
	s.buffer = append(s.buffer, chunk...)
	s.metrics.BufferedAudioBytes.Add(ctx, int64(len(chunk)))
	return len(s.buffer), nil
}

// BufferedBytes returns the current audio buffer size.
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Rename sets the display name of an identity. The name is permanent for the
// session: click matches will not replace it.
func (s *Session) Rename(id, name string) error {
	if err := s.rec.Rename(id, name); err != nil {
		return err
	}
	slog.Info("identity renamed", "identity", id, "name", name)
	s.notifyUpdate()
	return nil
}

// AddClick records a "this person is speaking now" event at the given
// timecode (seconds from the start of the recording) and returns the stored
// click, re-anchored if the name matched an existing one.
func (s *Session) AddClick(name string, timecode float64) (reconcile.Click, error) {
	click, err := s.rec.AddClick(name, timecode)
	if err != nil {
		return reconcile.Click{}, err
	}
	slog.Info("speaker click recorded",
		"click", click.ID,
		"name", click.Name,
		"timecode", click.Timecode,
		"matched", click.MatchedID,
	)
	s.notifyUpdate()
	return click, nil
}

// Pause stops the elapsed-time clock. Diarization timestamps are positions in
// the recorded audio and are unaffected. Pausing an already paused session is
// a no-op.
func (s *Session) Pause() {
	s.mu.Lock()
	if !s.paused {
		s.paused = true
		s.pausedSince = s.now()
		slog.Info("session paused")
	}
	s.mu.Unlock()
	s.notifyUpdate()
}

// Resume restarts the elapsed-time clock. Resuming a running session is a
// no-op.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.paused {
		s.pausedTotal += s.now().Sub(s.pausedSince)
		s.paused = false
		slog.Info("session resumed", "paused_total", s.pausedTotal)
	}
	s.mu.Unlock()
	s.notifyUpdate()
}

// Reset clears the buffer, the clock, the job registry, and all identities
// and clicks. In-flight waiters find their job gone and become no-ops.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	buffered := len(s.buffer)
	identities := s.rec.IdentityCount()
	s.buffer = nil
	s.startedAt = time.Time{}
	s.paused = false
	s.pausedSince = time.Time{}
	s.pausedTotal = 0
	s.pendingJobID = ""
	s.submitting = false
	s.epoch++
	s.jobs = make(map[string]*jobRecord)
	s.rec.Reset()
	s.mu.Unlock()

	s.metrics.BufferedAudioBytes.Add(ctx, -int64(buffered))
	s.metrics.KnownIdentities.Add(ctx, -int64(identities))
	observe.Logger(ctx).Info("session reset", "dropped_bytes", buffered, "dropped_identities", identities)
	s.notifyUpdate()
}

// elapsedLocked returns wall-clock meeting time minus accumulated pauses.
// Must be called with s.mu held.
func (s *Session) elapsedLocked() float64 {
	if s.startedAt.IsZero() {
		return 0
	}
	elapsed := s.now().Sub(s.startedAt) - s.pausedTotal
	if s.paused {
		elapsed -= s.now().Sub(s.pausedSince)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Seconds()
}

// notifyUpdate fires the configured update callback. Never called with s.mu
// held, so the callback may read session state.
func (s *Session) notifyUpdate() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
