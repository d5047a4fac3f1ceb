package sink

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/history"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/logger"
)

const historyWriteTimeout = 30 * time.Second

// History records every terminal outcome in a history.Store. Writes run on
// their own goroutines with retry; Wait blocks until they finish.
type History struct {
	store history.Store
	log   *logger.Logger
	now   func() time.Time

	url         string
	handle      job.Handle
	submittedAt time.Time

	wg sync.WaitGroup
}

// NewHistory records into store
func NewHistory(store history.Store, log *logger.Logger) *History {
	if log == nil {
		log = logger.Default()
	}
	return &History{store: store, log: log.WithComponent("history"), now: time.Now}
}

func (h *History) OnSubmitting(url string) {
	h.url = url
	h.handle = ""
	h.submittedAt = h.now()
}

func (h *History) OnProgress(p job.ProgressSnapshot) {
	h.handle = p.Handle
}

func (h *History) OnSuccess(r job.CompletionResult) {
	h.write(history.Succeeded(h.url, h.submittedAt, r, h.now()))
	h.clear()
}

func (h *History) OnFailure(err *apperrors.AppError) {
	if err.Code == apperrors.CodeInvalidInput {
		url, _ := err.Details["url"].(string)
		h.write(history.Failed(url, "", time.Time{}, err, h.now()))
		return
	}
	h.write(history.Failed(h.url, h.handle, h.submittedAt, err, h.now()))
	h.clear()
}

func (h *History) OnReset() {
	h.clear()
}

func (h *History) clear() {
	h.url = ""
	h.handle = ""
	h.submittedAt = time.Time{}
}

func (h *History) write(e history.Entry) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()
		ctx = apperrors.WithJobHandle(ctx, string(e.Handle))

		err := apperrors.Retry(ctx, apperrors.HistoryRetryConfig(), func(ctx context.Context) error {
			if err := h.store.Record(ctx, e); err != nil {
				return apperrors.StorageError("failed to record history").WithCause(err)
			}
			return nil
		})
		if err != nil {
			h.log.Error(ctx, "history write failed", err, map[string]interface{}{
				"outcome": string(e.Outcome),
			})
		}
	}()
}

// Wait blocks until pending writes complete
func (h *History) Wait() {
	h.wg.Wait()
}
