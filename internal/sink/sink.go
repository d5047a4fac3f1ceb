// Package sink defines the observer interface the orchestrator reports
// lifecycle events to, along with the stock observers used by the CLI and
// the relay.
//
// Callbacks run while the orchestrator holds its lock. Implementations must
// return quickly and must never call back into the orchestrator; anything
// slow belongs on a goroutine.
package sink

import (
	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
)

// Sink observes one orchestrator.
type Sink interface {
	OnSubmitting(url string)
	OnProgress(p job.ProgressSnapshot)
	OnSuccess(r job.CompletionResult)
	OnFailure(err *apperrors.AppError)
	OnReset()
}

// Base implements every callback as a no-op, for embedding.
type Base struct{}

func (Base) OnSubmitting(string)             {}
func (Base) OnProgress(job.ProgressSnapshot) {}
func (Base) OnSuccess(job.CompletionResult)  {}
func (Base) OnFailure(*apperrors.AppError)   {}
func (Base) OnReset()                        {}

// Multi fans every event out to its members in order.
type Multi []Sink

// Combine builds a Multi, skipping nil members
func Combine(sinks ...Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m Multi) OnSubmitting(url string) {
	for _, s := range m {
		s.OnSubmitting(url)
	}
}

func (m Multi) OnProgress(p job.ProgressSnapshot) {
	for _, s := range m {
		s.OnProgress(p)
	}
}

func (m Multi) OnSuccess(r job.CompletionResult) {
	for _, s := range m {
		s.OnSuccess(r)
	}
}

func (m Multi) OnFailure(err *apperrors.AppError) {
	for _, s := range m {
		s.OnFailure(err)
	}
}

func (m Multi) OnReset() {
	for _, s := range m {
		s.OnReset()
	}
}

// Terminal waits for the first terminal event after a submission.
type Terminal struct {
	Base

	done   chan struct{}
	closed bool
	result job.CompletionResult
	err    *apperrors.AppError
}

// NewTerminal creates a Terminal sink
func NewTerminal() *Terminal {
	return &Terminal{done: make(chan struct{})}
}

func (t *Terminal) OnSuccess(r job.CompletionResult) {
	if t.closed {
		return
	}
	t.result = r
	t.finish()
}

// OnFailure also ends the wait for an invalid URL, which never submits.
func (t *Terminal) OnFailure(err *apperrors.AppError) {
	if t.closed {
		return
	}
	t.err = err
	t.finish()
}

func (t *Terminal) finish() {
	t.closed = true
	close(t.done)
}

// Done is closed once the job succeeds or fails
func (t *Terminal) Done() <-chan struct{} { return t.done }

// Outcome returns the terminal result. Only valid after Done is closed.
func (t *Terminal) Outcome() (job.CompletionResult, *apperrors.AppError) {
	return t.result, t.err
}
