package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/spokelab/airtime/internal/observe"
	"github.com/spokelab/airtime/internal/reconcile"
	"github.com/spokelab/airtime/pkg/diarization"
)

// ResultSource identifies which delivery path carried a terminal job result.
type ResultSource string

const (
	// SourcePoll marks results obtained by the bounded polling waiter.
	SourcePoll ResultSource = "poll"

	// SourceWebhook marks results delivered by the provider's callback.
	SourceWebhook ResultSource = "webhook"
)

// Trigger snapshots the audio buffer and submits it for diarization. The
// returned Job is an acknowledgement only; the result is applied
// asynchronously when polling or a webhook delivers it.
//
// Returns [ErrEmptyBuffer] when nothing has been buffered and [ErrJobPending]
// while an earlier job is still in flight. When numSpeakers is not positive,
// the number of recorded clicks is used as the hint, or the provider
// auto-detects if there are none.
func (s *Session) Trigger(ctx context.Context, numSpeakers int) (diarization.Job, error) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return diarization.Job{}, ErrEmptyBuffer
	}
	if s.submitting || s.pendingJobID != "" {
		s.mu.Unlock()
		return diarization.Job{}, ErrJobPending
	}
	audio := make([]byte, len(s.buffer))
	copy(audio, s.buffer)
	if numSpeakers <= 0 {
		numSpeakers = s.rec.ClickCount()
	}
	s.submitting = true
	epoch := s.epoch
	s.mu.Unlock()

	observe.Logger(ctx).Info("submitting diarization job",
		"provider", s.providerName,
		"audio_bytes", len(audio),
		"num_speakers_hint", numSpeakers,
	)

	var job diarization.Job
	err := s.breaker.Execute(func() error {
		var serr error
		job, serr = s.provider.Submit(ctx, audio, diarization.SubmitOptions{NumSpeakers: numSpeakers})
		return serr
	})

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		s.metrics.RecordProviderRequest(ctx, s.providerName, "submit", "error")
		s.metrics.RecordProviderError(ctx, s.providerName, "submit")
		return diarization.Job{}, fmt.Errorf("session: submit diarization job: %w", err)
	}
	if epoch != s.epoch {
		// Reset happened while the upload was in flight.
		s.mu.Unlock()
		observe.Logger(ctx).Warn("discarding diarization job submitted before reset", "job_id", job.ID)
		return diarization.Job{}, fmt.Errorf("session: job %s orphaned by reset", job.ID)
	}
	s.pendingJobID = job.ID
	s.jobs[job.ID] = &jobRecord{submittedAt: s.now()}
	s.mu.Unlock()

	s.metrics.RecordProviderRequest(ctx, s.providerName, "submit", "ok")
	observe.Logger(ctx).Info("diarization job submitted", "job_id", job.ID, "status", job.Status)

	go s.awaitResult(job.ID)
	return job, nil
}

// awaitResult polls the provider until the job reaches a terminal state, then
// applies the result. Poll exhaustion clears the in-flight guard but leaves
// the job unapplied, so a late webhook can still deliver it.
func (s *Session) awaitResult(jobID string) {
	res, err := s.provider.Await(s.ctx, jobID)
	if err != nil {
		s.clearPending(jobID)
		outcome := "poll_error"
		if errors.Is(err, diarization.ErrPollTimeout) {
			outcome = "poll_timeout"
		}
		s.metrics.RecordJobResult(s.ctx, outcome, string(SourcePoll))
		slog.Warn("diarization poll ended without result", "job_id", jobID, "error", err)
		return
	}
	if _, err := s.ApplyResult(s.ctx, SourcePoll, res); err != nil {
		slog.Warn("poll result not applied", "job_id", jobID, "error", err)
	}
}

// clearPending releases the in-flight guard if jobID still holds it.
func (s *Session) clearPending(jobID string) {
	s.mu.Lock()
	if s.pendingJobID == jobID {
		s.pendingJobID = ""
	}
	s.mu.Unlock()
}

// ApplyResult applies one terminal job result to the session. Delivery is
// idempotent by job ID: the first terminal result wins and later duplicates
// (the webhook/poll race) are counted and ignored, reported by the returned
// bool. A succeeded result runs reconciliation; failed or canceled results
// clear the in-flight guard and leave identity state untouched. Unknown job
// IDs return [ErrUnknownJob].
func (s *Session) ApplyResult(ctx context.Context, src ResultSource, res diarization.Result) (bool, error) {
	s.mu.Lock()
	job, ok := s.jobs[res.JobID]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("session: apply result for %q: %w", res.JobID, ErrUnknownJob)
	}
	if job.applied {
		s.mu.Unlock()
		s.metrics.RecordJobResult(ctx, "duplicate", string(src))
		observe.Logger(ctx).Debug("duplicate job result ignored", "job_id", res.JobID, "source", string(src))
		return false, nil
	}
	job.applied = true
	if s.pendingJobID == res.JobID {
		s.pendingJobID = ""
	}
	jobElapsed := s.now().Sub(job.submittedAt).Seconds()

	// Reconcile under the session lock so a concurrent Reset cannot
	// interleave between delivery and commit.
	var (
		summary      reconcile.Summary
		reconcileErr error
		reconcileDur float64
	)
	if res.Status == diarization.StatusSucceeded {
		start := s.now()
		summary, reconcileErr = s.rec.Reconcile(res.Segments)
		reconcileDur = s.now().Sub(start).Seconds()
	}
	s.mu.Unlock()

	s.metrics.DiarizationDuration.Record(ctx, jobElapsed,
		metric.WithAttributes(observe.Attr("outcome", string(res.Status))))

	switch {
	case res.Status != diarization.StatusSucceeded:
		s.metrics.RecordJobResult(ctx, string(res.Status), string(src))
		observe.Logger(ctx).Warn("diarization job did not succeed",
			"job_id", res.JobID,
			"source", string(src),
			"status", string(res.Status),
			"reason", res.Reason,
		)

	case reconcileErr != nil:
		// Succeeded with zero segments; nothing to attribute this cycle.
		s.metrics.RecordJobResult(ctx, "empty", string(src))
		observe.Logger(ctx).Warn("diarization job succeeded with no segments", "job_id", res.JobID)

	default:
		s.metrics.ReconcileDuration.Record(ctx, reconcileDur)
		if n := len(summary.Created); n > 0 {
			s.metrics.KnownIdentities.Add(ctx, int64(n))
		}
		s.metrics.RecordJobResult(ctx, "succeeded", string(src))
		observe.Logger(ctx).Info("diarization result applied",
			"job_id", res.JobID,
			"source", string(src),
			"run_speakers", summary.RunSpeakers,
			"created", summary.Created,
			"attributed_seconds", summary.TotalSeconds,
		)
	}

	s.notifyUpdate()
	return true, nil
}
