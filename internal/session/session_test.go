package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spokelab/airtime/internal/reconcile"
	"github.com/spokelab/airtime/pkg/diarization"
	"github.com/spokelab/airtime/pkg/diarization/mock"
)

// blockingAwait parks the polling waiter until the session is closed, so
// tests can drive result delivery explicitly through ApplyResult.
func blockingAwait(ctx context.Context, jobID string) (diarization.Result, error) {
	<-ctx.Done()
	return diarization.Result{}, ctx.Err()
}

// newTestSession builds a session around the given mock provider. The session
// is closed when the test ends.
func newTestSession(t *testing.T, p *mock.Provider, mutate ...func(*Config)) *Session {
	t.Helper()
	cfg := Config{Provider: p, ProviderName: "mock"}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func seg(start, end float64, speaker string) diarization.Segment {
	return diarization.Segment{Start: start, End: end, Speaker: speaker}
}

// rowByID finds a snapshot row by ID.
func rowByID(t *testing.T, snap Snapshot, id string) Speaker {
	t.Helper()
	for _, row := range snap.Speakers {
		if row.ID == id {
			return row
		}
	}
	t.Fatalf("no snapshot row with ID %q (rows: %+v)", id, snap.Speakers)
	return Speaker{}
}

// fakeClock provides deterministic time for pause arithmetic tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestNew_RequiresProvider(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestAddChunk_AppendsAndReportsSize(t *testing.T) {
	s := newTestSession(t, &mock.Provider{})

	n, err := s.AddChunk(t.Context(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if n != 3 {
		t.Errorf("buffered = %d, want 3", n)
	}

	n, err = s.AddChunk(t.Context(), []byte{4, 5, 6, 7})
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if n != 7 {
		t.Errorf("buffered = %d, want 7", n)
	}
	if got := s.BufferedBytes(); got != 7 {
		t.Errorf("BufferedBytes() = %d, want 7", got)
	}
}

func TestAddChunk_EnforcesBufferCap(t *testing.T) {
	s := newTestSession(t, &mock.Provider{}, func(cfg *Config) {
		cfg.MaxBufferBytes = 8
	})

	if _, err := s.AddChunk(t.Context(), []byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("AddChunk under cap: %v", err)
	}

	_, err := s.AddChunk(t.Context(), []byte{6, 7, 8, 9})
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("err = %v, want ErrBufferFull", err)
	}
	if got := s.BufferedBytes(); got != 5 {
		t.Errorf("BufferedBytes() after rejected chunk = %d, want 5", got)
	}
}

func TestSpeakers_EmptySession(t *testing.T) {
	s := newTestSession(t, &mock.Provider{})

	snap := s.Speakers()
	if len(snap.Speakers) != 0 {
		t.Errorf("speakers = %+v, want none", snap.Speakers)
	}
	if snap.TotalTime != 0 {
		t.Errorf("totalTime = %v, want 0", snap.TotalTime)
	}
	if snap.Elapsed != 0 {
		t.Errorf("elapsed = %v, want 0 before first chunk", snap.Elapsed)
	}
	if snap.Paused {
		t.Error("paused = true, want false")
	}
}

func TestSpeakers_UnmatchedClickPlaceholder(t *testing.T) {
	p := &mock.Provider{AwaitFunc: blockingAwait}
	s := newTestSession(t, p)

	// A click before any diarization run cannot match an identity yet.
	click, err := s.AddClick("Alice", 5)
	if err != nil {
		t.Fatalf("AddClick: %v", err)
	}
	if click.MatchedID != "" {
		t.Fatalf("MatchedID = %q, want unmatched", click.MatchedID)
	}

	snap := s.Speakers()
	row := rowByID(t, snap, "MANUAL_00")
	if row.Name != "Alice" || row.Time != 0 {
		t.Errorf("placeholder row = %+v, want Alice with 0 time", row)
	}

	// Once a run exists the click matches and the placeholder disappears.
	p.SubmitJob = diarization.Job{ID: "job-1", Status: diarization.StatusCreated}
	if _, err := s.AddChunk(t.Context(), []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Trigger(t.Context(), 0); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	applied, err := s.ApplyResult(t.Context(), SourceWebhook, diarization.Result{
		JobID:    "job-1",
		Status:   diarization.StatusSucceeded,
		Segments: []diarization.Segment{seg(0, 10, "A")},
	})
	if err != nil {
		t.Fatalf("ApplyResult: %v", err)
	}
	if !applied {
		t.Fatal("ApplyResult reported not applied for first delivery")
	}

	snap = s.Speakers()
	if len(snap.Speakers) != 1 {
		t.Fatalf("speakers = %+v, want exactly one row", snap.Speakers)
	}
	row = rowByID(t, snap, "SPEAKER_00")
	if row.Name != "Alice" {
		t.Errorf("identity name = %q, want click name applied", row.Name)
	}
	if row.Time != 10 {
		t.Errorf("identity time = %v, want 10", row.Time)
	}
}

func TestPauseResume_ElapsedArithmetic(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, &mock.Provider{})
	s.now = clk.Now

	// Elapsed runs from the first chunk.
	if _, err := s.AddChunk(t.Context(), []byte{1}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(10 * time.Second)
	if got := s.Speakers().Elapsed; got != 10 {
		t.Errorf("elapsed = %v, want 10", got)
	}

	// Paused time is excluded and the clock freezes while paused.
	s.Pause()
	clk.Advance(5 * time.Second)
	snap := s.Speakers()
	if !snap.Paused {
		t.Error("paused = false, want true")
	}
	if snap.Elapsed != 10 {
		t.Errorf("elapsed while paused = %v, want frozen at 10", snap.Elapsed)
	}

	s.Resume()
	clk.Advance(5 * time.Second)
	snap = s.Speakers()
	if snap.Paused {
		t.Error("paused = true after resume")
	}
	if snap.Elapsed != 15 {
		t.Errorf("elapsed after resume = %v, want 15", snap.Elapsed)
	}
}

func TestPause_Idempotent(t *testing.T) {
	clk := newFakeClock()
	s := newTestSession(t, &mock.Provider{})
	s.now = clk.Now

	if _, err := s.AddChunk(t.Context(), []byte{1}); err != nil {
		t.Fatal(err)
	}
	s.Pause()
	clk.Advance(3 * time.Second)
	s.Pause() // must not re-anchor the pause start
	clk.Advance(3 * time.Second)
	s.Resume()
	s.Resume() // must not double-count the pause

	if got := s.Speakers().Elapsed; got != 0 {
		t.Errorf("elapsed = %v, want 0 (whole time spent paused)", got)
	}
}

func TestRename_SetsNameAndSticks(t *testing.T) {
	p := &mock.Provider{
		SubmitJob: diarization.Job{ID: "job-1", Status: diarization.StatusCreated},
		AwaitFunc: blockingAwait,
	}
	s := newTestSession(t, p)

	if _, err := s.AddChunk(t.Context(), []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Trigger(t.Context(), 0); err != nil {
		t.Fatal(err)
	}
	_, err := s.ApplyResult(t.Context(), SourceWebhook, diarization.Result{
		JobID:    "job-1",
		Status:   diarization.StatusSucceeded,
		Segments: []diarization.Segment{seg(0, 10, "A")},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Rename("SPEAKER_00", "Dr. Chen"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	row := rowByID(t, s.Speakers(), "SPEAKER_00")
	if row.Name != "Dr. Chen" {
		t.Errorf("name = %q, want %q", row.Name, "Dr. Chen")
	}
}

func TestRename_UnknownIdentity(t *testing.T) {
	s := newTestSession(t, &mock.Provider{})

	err := s.Rename("SPEAKER_42", "Nobody")
	if !errors.Is(err, reconcile.ErrUnknownIdentity) {
		t.Fatalf("err = %v, want ErrUnknownIdentity", err)
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	p := &mock.Provider{
		SubmitJob: diarization.Job{ID: "job-1", Status: diarization.StatusCreated},
		AwaitFunc: blockingAwait,
	}
	s := newTestSession(t, p)

	if _, err := s.AddChunk(t.Context(), []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddClick("Alice", 2); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Trigger(t.Context(), 0); err != nil {
		t.Fatal(err)
	}
	_, err := s.ApplyResult(t.Context(), SourceWebhook, diarization.Result{
		JobID:    "job-1",
		Status:   diarization.StatusSucceeded,
		Segments: []diarization.Segment{seg(0, 10, "A")},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Pause()

	s.Reset(t.Context())

	if got := s.BufferedBytes(); got != 0 {
		t.Errorf("BufferedBytes() = %d, want 0", got)
	}
	snap := s.Speakers()
	if len(snap.Speakers) != 0 {
		t.Errorf("speakers = %+v, want none", snap.Speakers)
	}
	if snap.Elapsed != 0 || snap.Paused {
		t.Errorf("elapsed = %v paused = %v, want fresh clock", snap.Elapsed, snap.Paused)
	}

	// The old job is gone from the registry.
	_, err = s.ApplyResult(t.Context(), SourceWebhook, diarization.Result{
		JobID:  "job-1",
		Status: diarization.StatusSucceeded,
	})
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("apply after reset = %v, want ErrUnknownJob", err)
	}

	// And triggering needs fresh audio.
	if _, err := s.Trigger(t.Context(), 0); !errors.Is(err, ErrEmptyBuffer) {
		t.Errorf("trigger after reset = %v, want ErrEmptyBuffer", err)
	}
}

func TestOnUpdate_FiresOnStateChanges(t *testing.T) {
	var (
		mu    sync.Mutex
		fired int
	)
	p := &mock.Provider{
		SubmitJob: diarization.Job{ID: "job-1", Status: diarization.StatusCreated},
		AwaitFunc: blockingAwait,
	}
	s := newTestSession(t, p, func(cfg *Config) {
		cfg.OnUpdate = func() {
			mu.Lock()
			fired++
			mu.Unlock()
		}
	})

	if _, err := s.AddClick("Alice", 1); err != nil { // 1
		t.Fatal(err)
	}
	s.Pause()  // 2
	s.Resume() // 3
	if _, err := s.AddChunk(t.Context(), []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Trigger(t.Context(), 0); err != nil {
		t.Fatal(err)
	}
	_, err := s.ApplyResult(t.Context(), SourceWebhook, diarization.Result{
		JobID:    "job-1",
		Status:   diarization.StatusSucceeded,
		Segments: []diarization.Segment{seg(0, 5, "A")},
	}) // 4
	if err != nil {
		t.Fatal(err)
	}
	s.Reset(t.Context()) // 5

	mu.Lock()
	defer mu.Unlock()
	if fired != 5 {
		t.Errorf("update callback fired %d times, want 5", fired)
	}
}
