package sink

import (
	"context"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/logger"
)

// Log writes lifecycle events to the structured logger. Progress is logged
// at debug only when the phase changes.
type Log struct {
	log       *logger.Logger
	lastPhase job.Phase
}

// NewLog wraps log; nil means the default logger
func NewLog(log *logger.Logger) *Log {
	if log == nil {
		log = logger.Default()
	}
	return &Log{log: log.WithComponent("lifecycle")}
}

func (l *Log) OnSubmitting(url string) {
	l.lastPhase = ""
	l.log.Info(context.Background(), "job submitting", map[string]interface{}{
		"url": url,
	})
}

func (l *Log) OnProgress(p job.ProgressSnapshot) {
	if p.Phase == l.lastPhase {
		return
	}
	l.lastPhase = p.Phase
	ctx := apperrors.WithJobHandle(context.Background(), string(p.Handle))
	l.log.Debug(ctx, "job phase changed", map[string]interface{}{
		"phase":   string(p.Phase),
		"percent": p.Percent,
		"title":   p.Title,
	})
}

func (l *Log) OnSuccess(r job.CompletionResult) {
	ctx := apperrors.WithJobHandle(context.Background(), string(r.Handle))
	l.log.Info(ctx, "job succeeded", map[string]interface{}{
		"title":         r.Title,
		"download_link": r.DownloadLink,
		"expires_at":    r.ExpiresAt,
	})
}

func (l *Log) OnFailure(err *apperrors.AppError) {
	l.log.WarnErr(context.Background(), "job failed", err, err.Details)
}

func (l *Log) OnReset() {
	l.lastPhase = ""
	l.log.Debug(context.Background(), "job reset")
}
