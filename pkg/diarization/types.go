package diarization

// Segment is one contiguous stretch of speech attributed to a single speaker
// label. Start and End are in seconds from the beginning of the submitted
// recording. Segments are plain values; once produced by a run they are never
// mutated.
//
// The Speaker field carries whatever label the diarization engine assigned for
// that run (e.g. "SPEAKER_00"). Labels are only meaningful within a single run:
// the engine may call the same person "SPEAKER_00" in one run and "SPEAKER_02"
// in the next. Mapping run-local labels onto stable identities is the job of
// the reconcile package, not the provider.
type Segment struct {
	// Start is the segment start offset in seconds. Always >= 0.
	Start float64 `json:"start"`

	// End is the segment end offset in seconds. Always > Start for any
	// segment a well-behaved provider emits.
	End float64 `json:"end"`

	// Speaker is the run-local label the engine assigned to this segment.
	Speaker string `json:"speaker"`
}

// Duration returns the length of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Overlap returns the length in seconds of the intersection of two segments.
// Disjoint or merely touching segments (a.End == b.Start) yield 0. The result
// is symmetric, and when one segment fully contains the other it equals the
// shorter segment's duration.
func Overlap(a, b Segment) float64 {
	lo := a.Start
	if b.Start > lo {
		lo = b.Start
	}
	hi := a.End
	if b.End < hi {
		hi = b.End
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Status is the lifecycle state of a diarization job as reported by the
// provider.
type Status string

const (
	// StatusCreated means the job was accepted but has not started.
	StatusCreated Status = "created"

	// StatusProcessing means the provider is working on the job.
	StatusProcessing Status = "processing"

	// StatusSucceeded means the job finished and Result.Segments is valid.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the job finished unsuccessfully. Result.Reason may
	// carry a provider-supplied explanation.
	StatusFailed Status = "failed"

	// StatusCanceled means the job was canceled before completion.
	StatusCanceled Status = "canceled"
)

// IsTerminal reports whether the status is final, i.e. the job will never
// change state again and no further results for it will arrive.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Job is the handle returned by Submit. It identifies an asynchronous
// diarization run on the provider's side.
type Job struct {
	// ID is the provider-assigned job identifier. Unique per submission.
	ID string

	// Status is the state the job was in when the handle was issued,
	// typically StatusCreated or StatusProcessing.
	Status Status
}

// Result is the terminal outcome of a diarization job, whether obtained by
// polling or delivered through a webhook.
type Result struct {
	// JobID identifies the job this result belongs to.
	JobID string

	// Status is the terminal status of the job.
	Status Status

	// Segments is the full diarization of the submitted recording. Only
	// populated when Status is StatusSucceeded. Segments within one result
	// do not overlap each other.
	Segments []Segment

	// Reason is an optional provider-supplied explanation for failed or
	// canceled jobs.
	Reason string
}

// SubmitOptions carries per-submission hints for the provider.
type SubmitOptions struct {
	// NumSpeakers is the expected number of distinct speakers in the
	// recording. 0 lets the engine decide on its own.
	NumSpeakers int

	// WebhookURL, when non-empty, asks the provider to POST the terminal
	// result to this URL in addition to making it available for polling.
	WebhookURL string
}
