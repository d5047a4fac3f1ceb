package orchestrator

import (
	"context"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/jobapi"
)

// checkOnce asks whether the artifact for handle is ready. Every failed tick
// is fatal: there is no partial state left to report.
func (o *Orchestrator) checkOnce(ctx context.Context, handle job.Handle, gen uint64) {
	o.metrics.CompletionTick()
	resp, err := o.api.CheckCompletion(ctx, handle)

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.current(gen, job.KindCheckingCompletion) {
		o.metrics.StaleResult()
		return
	}

	if err != nil {
		appErr := apperrors.As(err)
		if appErr.Code != apperrors.CodeTransportError {
			appErr = apperrors.TransportError(jobapi.MsgFinalizingNetwork).WithCause(err)
		}
		o.failLocked(ctx, appErr)
		return
	}

	if resp.Pending() {
		o.log.Debug(ctx, "artifact not ready yet", map[string]interface{}{
			"status": resp.Status,
		})
		return
	}

	result, appErr := resp.Result(handle)
	if appErr != nil {
		o.failLocked(ctx, appErr)
		return
	}
	o.succeedLocked(ctx, result)
}
