// Package diarization defines the Provider interface for speaker diarization
// backends.
//
// A diarization provider wraps a batch diarization service (e.g., pyannote.ai)
// and exposes a uniform asynchronous interface: Submit uploads a complete
// recording and starts a job, Await blocks until the job reaches a terminal
// status, and ParseWebhook decodes a provider-pushed callback payload into the
// same Result type. Because each run diarizes the entire recording from the
// beginning, results from different runs of the same session are independent
// and their speaker labels must not be compared directly — see the Segment
// documentation.
//
// Implementations must be safe for concurrent use. A single provider instance
// may have several jobs in flight at once.
package diarization

import (
	"context"
	"errors"
)

// ErrPollTimeout is returned by Await when the polling attempt budget is
// exhausted before the job reached a terminal status. The job may still
// complete on the provider's side afterwards; a webhook delivery for it
// remains valid.
var ErrPollTimeout = errors.New("diarization: polling attempts exhausted before job completed")

// Provider is the abstraction over any asynchronous diarization backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Submit uploads the complete recording and starts a diarization job.
	// audio is the raw recording bytes in whatever container the provider
	// accepts; the session layer passes the browser recording through
	// unchanged. The returned Job handle is valid immediately; the job
	// itself completes asynchronously.
	//
	// Returns an error if the upload or job creation fails (network,
	// authentication, malformed request). A Submit error never implies
	// anything about previously submitted jobs.
	Submit(ctx context.Context, audio []byte, opts SubmitOptions) (Job, error)

	// Await blocks until the job reaches a terminal status or the attempt
	// budget runs out, polling at the implementation's configured interval.
	// Returns ErrPollTimeout (possibly wrapped) when the budget is exhausted,
	// or the ctx error if ctx is done first. A Result with a terminal
	// Status is returned even when that status is StatusFailed or
	// StatusCanceled; the error return is reserved for transport problems
	// and timeout.
	Await(ctx context.Context, jobID string) (Result, error)

	// ParseWebhook decodes the body of a provider-pushed completion callback
	// into a Result. It performs no I/O and does not consult job state; the
	// caller decides whether the result is still relevant. Returns an error
	// for payloads that do not parse or that lack a job identifier.
	ParseWebhook(body []byte) (Result, error)
}
