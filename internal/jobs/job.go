package jobs

import (
	"context"
	"time"
)

// JobState is one state of the job lifecycle
type JobState string

const (
	StatePending JobState = "Pending"
	StateRunning JobState = "Running"
	StateSuccess JobState = "Success"
	StateFailure JobState = "Failure"
	StatePaused  JobState = "Paused"
	StateRetry   JobState = "Retry"
)

// StepKind is the outcome of one unit of work
type StepKind int

const (
	StepContinue StepKind = iota
	StepSuccess
	StepFailure
	StepRetry
)

// StepResult is returned by Job.Step. Failure results carry the error the
// engine surfaces through JobInfo; retry results carry the back-off delay.
type StepResult struct {
	Kind       StepKind
	Err        error
	RetryAfter time.Duration
}

// Continue keeps the job running
func Continue() StepResult {
	return StepResult{Kind: StepContinue}
}

// Success completes the job
func Success() StepResult {
	return StepResult{Kind: StepSuccess}
}

// Failure fails the job with an error
func Failure(err error) StepResult {
	return StepResult{Kind: StepFailure, Err: err}
}

// Retry parks the job until the deadline, then requeues it
func Retry(after time.Duration) StepResult {
	return StepResult{Kind: StepRetry, RetryAfter: after}
}

// StopReason tells a job why its execution ends
type StopReason int

const (
	StopSuccess StopReason = iota
	StopFailure
	StopPaused
	StopCanceled
)

// Job is one unit of asynchronous work. Implementations are driven by a
// single worker at a time, so they need no internal locking against the
// engine.
type Job interface {
	// Step executes one unit of work. Cooperative interruption happens
	// between steps.
	Step(ctx context.Context) StepResult

	// Reset clears internal progress before a re-run of a paused job
	Reset()

	// Stop is notified on pause, cancellation and completion
	Stop(reason StopReason)

	// Type is the discriminator used by unserializers
	Type() string

	// Progress reports completion in [0,1]
	Progress() float64

	// PublicContent is the user-visible description of the job
	PublicContent() map[string]interface{}

	// Serialize returns the persistent payload, or false for jobs that do
	// not survive a restart
	Serialize() (map[string]interface{}, bool)
}
