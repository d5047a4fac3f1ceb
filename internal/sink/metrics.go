package sink

import (
	"time"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
)

// Metrics counts outcomes into m.
type Metrics struct {
	Base
	m       *metrics.Metrics
	now     func() time.Time
	started time.Time
}

// NewMetrics records into m
func NewMetrics(m *metrics.Metrics) *Metrics {
	return &Metrics{m: m, now: time.Now}
}

func (s *Metrics) OnSubmitting(string) {
	s.started = s.now()
	s.m.JobSubmitted()
}

func (s *Metrics) OnSuccess(job.CompletionResult) {
	var elapsed time.Duration
	if !s.started.IsZero() {
		elapsed = s.now().Sub(s.started)
	}
	s.started = time.Time{}
	s.m.JobSucceeded(elapsed)
}

func (s *Metrics) OnFailure(err *apperrors.AppError) {
	// Rejected before submission, so any running job is unaffected
	if err.Code == apperrors.CodeInvalidInput {
		s.m.IncCounter("invalid_input")
		return
	}
	s.started = time.Time{}
	s.m.JobFailed(err.Code)
}

func (s *Metrics) OnReset() {
	s.m.JobReset()
}
