package orchestrator

import (
	"context"
	"errors"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/jobapi"
)

// pollOnce fetches progress for handle and applies it if gen is still the
// live job in the Polling state.
func (o *Orchestrator) pollOnce(ctx context.Context, handle job.Handle, gen uint64) {
	o.metrics.PollTick()
	resp, err := o.api.Progress(ctx, handle)

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.current(gen, job.KindPolling) {
		o.metrics.StaleResult()
		return
	}

	if errors.Is(err, jobapi.ErrMalformedBody) {
		// A garbled body is skipped; the next tick may read fine
		o.log.Debug(ctx, "undecodable progress response, still polling", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err != nil {
		// Any transport failure ends the job
		o.failLocked(ctx, apperrors.As(err))
		return
	}

	snap := job.Decode(handle, resp.Report())
	if snap.Title != "" {
		o.title = snap.Title
	}

	switch snap.Phase {
	case job.PhaseCompleted:
		o.poller.stop()
		o.poller = nil

		fin := job.Finalizing(handle, o.title)
		s := job.CheckingCompletion(o.state.URL, handle)
		s.Progress = &fin
		o.setState(s)
		o.log.Debug(ctx, "job completed, checking for file")
		o.sink.OnProgress(fin)

		o.checker = o.startLoop(ctx, o.completionInterval, func(ctx context.Context) {
			o.checkOnce(ctx, handle, gen)
		})

	case job.PhaseError:
		o.failLocked(ctx, apperrors.RemoteError(snap.Message).WithDetail("phase", string(snap.Phase)))

	default:
		if snap.Phase == job.PhaseUnknown {
			o.log.Debug(ctx, "unrecognized phase, still initializing", map[string]interface{}{
				"status": resp.Status,
			})
		}
		s := o.state
		s.Progress = &snap
		o.setState(s)
		o.sink.OnProgress(snap)
	}
}
