// Package mock provides a test double for the diarization.Provider interface.
//
// Use Provider to verify that the caller submits the expected audio and
// options, and to feed controlled results back without talking to a real
// diarization service.
//
// Example:
//
//	p := &mock.Provider{
//	    SubmitJob:   diarization.Job{ID: "job-1", Status: diarization.StatusCreated},
//	    AwaitResult: diarization.Result{JobID: "job-1", Status: diarization.StatusSucceeded},
//	}
//	job, _ := p.Submit(ctx, audio, opts)
package mock

import (
	"context"
	"sync"

	"github.com/spokelab/airtime/pkg/diarization"
)

// SubmitCall records a single invocation of Provider.Submit.
type SubmitCall struct {
	// Audio is a copy of the audio bytes passed to Submit.
	Audio []byte
	// Opts is the SubmitOptions passed to Submit.
	Opts diarization.SubmitOptions
}

// AwaitCall records a single invocation of Provider.Await.
type AwaitCall struct {
	// JobID is the job identifier passed to Await.
	JobID string
}

// ParseWebhookCall records a single invocation of Provider.ParseWebhook.
type ParseWebhookCall struct {
	// Body is a copy of the payload passed to ParseWebhook.
	Body []byte
}

// Provider is a mock implementation of diarization.Provider.
type Provider struct {
	mu sync.Mutex

	// SubmitJob is the Job returned by Submit.
	SubmitJob diarization.Job

	// SubmitErr, if non-nil, is returned as the error from Submit.
	SubmitErr error

	// SubmitFunc, if non-nil, is consulted instead of SubmitJob/SubmitErr.
	SubmitFunc func(ctx context.Context, audio []byte, opts diarization.SubmitOptions) (diarization.Job, error)

	// AwaitResult is the Result returned by Await.
	AwaitResult diarization.Result

	// AwaitErr, if non-nil, is returned as the error from Await.
	AwaitErr error

	// AwaitFunc, if non-nil, is consulted instead of AwaitResult/AwaitErr.
	// Useful for blocking until the test releases the waiter.
	AwaitFunc func(ctx context.Context, jobID string) (diarization.Result, error)

	// ParseWebhookResult is the Result returned by ParseWebhook.
	ParseWebhookResult diarization.Result

	// ParseWebhookErr, if non-nil, is returned as the error from ParseWebhook.
	ParseWebhookErr error

	// SubmitCalls records every call to Submit in order.
	SubmitCalls []SubmitCall

	// AwaitCalls records every call to Await in order.
	AwaitCalls []AwaitCall

	// ParseWebhookCalls records every call to ParseWebhook in order.
	ParseWebhookCalls []ParseWebhookCall
}

// Submit records the call and returns SubmitJob, SubmitErr (or defers to
// SubmitFunc when set).
func (p *Provider) Submit(ctx context.Context, audio []byte, opts diarization.SubmitOptions) (diarization.Job, error) {
	p.mu.Lock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.SubmitCalls = append(p.SubmitCalls, SubmitCall{Audio: cp, Opts: opts})
	fn := p.SubmitFunc
	job, err := p.SubmitJob, p.SubmitErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, opts)
	}
	return job, err
}

// Await records the call and returns AwaitResult, AwaitErr (or defers to
// AwaitFunc when set).
func (p *Provider) Await(ctx context.Context, jobID string) (diarization.Result, error) {
	p.mu.Lock()
	p.AwaitCalls = append(p.AwaitCalls, AwaitCall{JobID: jobID})
	fn := p.AwaitFunc
	res, err := p.AwaitResult, p.AwaitErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, jobID)
	}
	return res, err
}

// ParseWebhook records the call and returns ParseWebhookResult, ParseWebhookErr.
func (p *Provider) ParseWebhook(body []byte) (diarization.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	p.ParseWebhookCalls = append(p.ParseWebhookCalls, ParseWebhookCall{Body: cp})
	return p.ParseWebhookResult, p.ParseWebhookErr
}

// SubmitCallCount returns the number of Submit calls. Thread-safe.
func (p *Provider) SubmitCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SubmitCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SubmitCalls = nil
	p.AwaitCalls = nil
	p.ParseWebhookCalls = nil
}

// Ensure Provider implements diarization.Provider at compile time.
var _ diarization.Provider = (*Provider)(nil)
