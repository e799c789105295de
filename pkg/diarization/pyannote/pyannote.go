// Package pyannote provides a pyannote.ai-backed diarization provider.
//
// The pyannote.ai cloud API is fully asynchronous: the recording is first
// uploaded to provider-managed temporary storage through a presigned URL, then
// a diarization job is created referencing the uploaded object, and finally the
// result is fetched either by polling the job resource or by receiving a
// webhook callback. This package implements all three steps behind the
// diarization.Provider interface.
//
// Usage:
//
//	p, err := pyannote.New(apiKey,
//	    pyannote.WithPollInterval(2*time.Second),
//	    pyannote.WithWebhookURL("https://example.com/api/webhook/diarization"),
//	)
//	job, err := p.Submit(ctx, recording, diarization.SubmitOptions{NumSpeakers: 3})
//	res, err := p.Await(ctx, job.ID)
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/spokelab/airtime/pkg/diarization"
)

const (
	// defaultBaseURL is the production pyannote.ai API root.
	defaultBaseURL = "https://api.pyannote.ai/v1"

	// defaultPollInterval and defaultMaxPollAttempts bound Await: with the
	// defaults a job may take up to two minutes before ErrPollTimeout.
	defaultPollInterval    = time.Second
	defaultMaxPollAttempts = 120
)

// Compile-time assertion that Provider implements diarization.Provider.
var _ diarization.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API root, e.g. to point at a test server. The
// value must not end with a slash. Defaults to the production pyannote.ai API.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient replaces the HTTP client used for all requests, including the
// presigned upload. The default client has a 60 second timeout, sized for
// uploading multi-minute recordings.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithPollInterval sets the delay between successive job status checks in
// Await. Defaults to 1 second.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.pollInterval = d
	}
}

// WithMaxPollAttempts sets the number of status checks Await performs before
// giving up with ErrPollTimeout. Defaults to 120.
func WithMaxPollAttempts(n int) Option {
	return func(p *Provider) {
		p.maxPollAttempts = n
	}
}

// WithWebhookURL sets a webhook URL attached to every submitted job unless the
// per-call SubmitOptions provide their own. Empty (the default) means jobs are
// poll-only unless the caller asks otherwise.
func WithWebhookURL(url string) Option {
	return func(p *Provider) {
		p.webhookURL = url
	}
}

// Provider implements diarization.Provider backed by the pyannote.ai cloud
// API. Multiple jobs may be in flight simultaneously.
type Provider struct {
	apiKey          string
	baseURL         string
	webhookURL      string
	pollInterval    time.Duration
	maxPollAttempts int
	httpClient      *http.Client
}

// New creates a new Provider authenticated with apiKey. apiKey must be
// non-empty. Functional options may be provided to override defaults.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("pyannote: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:          apiKey,
		baseURL:         defaultBaseURL,
		pollInterval:    defaultPollInterval,
		maxPollAttempts: defaultMaxPollAttempts,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Submit uploads audio to pyannote-managed storage and starts a diarization
// job over it. The media object key is a fresh UUID, so concurrent submissions
// never collide. Returns the job handle; the job completes asynchronously.
func (p *Provider) Submit(ctx context.Context, audio []byte, opts diarization.SubmitOptions) (diarization.Job, error) {
	mediaURL := "media://airtime-" + uuid.NewString()

	if err := p.upload(ctx, mediaURL, audio); err != nil {
		return diarization.Job{}, err
	}

	payload := map[string]any{"url": mediaURL}
	webhook := opts.WebhookURL
	if webhook == "" {
		webhook = p.webhookURL
	}
	if webhook != "" {
		payload["webhook"] = webhook
	}
	if opts.NumSpeakers > 0 {
		payload["numSpeakers"] = opts.NumSpeakers
	}

	var resp struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	if err := p.postJSON(ctx, p.baseURL+"/diarize", payload, &resp); err != nil {
		return diarization.Job{}, fmt.Errorf("pyannote: create diarization job: %w", err)
	}
	if resp.JobID == "" {
		return diarization.Job{}, errors.New("pyannote: create diarization job: response carries no jobId")
	}

	return diarization.Job{ID: resp.JobID, Status: diarization.Status(resp.Status)}, nil
}

// Await polls the job resource until it reaches a terminal status. It returns
// ErrPollTimeout once the attempt budget is spent, or ctx.Err() if the context
// is done first. Failed and canceled jobs are returned as a Result with the
// corresponding status, not as an error.
func (p *Provider) Await(ctx context.Context, jobID string) (diarization.Result, error) {
	if jobID == "" {
		return diarization.Result{}, errors.New("pyannote: jobID must not be empty")
	}

	for attempt := 0; attempt < p.maxPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return diarization.Result{}, fmt.Errorf("pyannote: await job %s: %w", jobID, ctx.Err())
			case <-time.After(p.pollInterval):
			}
		}

		var payload jobPayload
		if err := p.getJSON(ctx, p.baseURL+"/jobs/"+jobID, &payload); err != nil {
			return diarization.Result{}, fmt.Errorf("pyannote: fetch job %s: %w", jobID, err)
		}

		status := diarization.Status(payload.Status)
		if status.IsTerminal() {
			return payload.toResult(jobID), nil
		}
	}

	return diarization.Result{}, fmt.Errorf("pyannote: await job %s: %w", jobID, diarization.ErrPollTimeout)
}

// ParseWebhook decodes a pyannote completion callback body. The payload has
// the same shape as the job resource; only presence of a job identifier and a
// status is validated here.
func (p *Provider) ParseWebhook(body []byte) (diarization.Result, error) {
	var payload jobPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return diarization.Result{}, fmt.Errorf("pyannote: parse webhook payload: %w", err)
	}
	if payload.JobID == "" {
		return diarization.Result{}, errors.New("pyannote: webhook payload carries no jobId")
	}
	if payload.Status == "" {
		return diarization.Result{}, fmt.Errorf("pyannote: webhook payload for job %s carries no status", payload.JobID)
	}
	return payload.toResult(payload.JobID), nil
}

// ---- wire types ---------------------------------------------------------------

// jobPayload is the shape shared by the job resource and the webhook body.
type jobPayload struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Output struct {
		Diarization []diarization.Segment `json:"diarization"`
	} `json:"output"`
}

func (j jobPayload) toResult(jobID string) diarization.Result {
	return diarization.Result{
		JobID:    jobID,
		Status:   diarization.Status(j.Status),
		Segments: j.Output.Diarization,
		Reason:   j.Error,
	}
}

// ---- HTTP helpers -------------------------------------------------------------

// upload requests a presigned URL for mediaURL and PUTs the audio bytes to it.
func (p *Provider) upload(ctx context.Context, mediaURL string, audio []byte) error {
	var presigned struct {
		URL string `json:"url"`
	}
	if err := p.postJSON(ctx, p.baseURL+"/media/input", map[string]any{"url": mediaURL}, &presigned); err != nil {
		return fmt.Errorf("pyannote: create presigned upload: %w", err)
	}
	if presigned.URL == "" {
		return errors.New("pyannote: create presigned upload: response carries no url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.URL, bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("pyannote: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pyannote: upload audio: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pyannote: upload audio: storage returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// postJSON sends an authenticated JSON POST and decodes the JSON response
// into out.
func (p *Provider) postJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	return p.do(req, out)
}

// getJSON sends an authenticated GET and decodes the JSON response into out.
func (p *Provider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	return p.do(req, out)
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse JSON response: %w", err)
		}
	}
	return nil
}
