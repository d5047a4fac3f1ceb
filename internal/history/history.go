// Package history keeps the terminal outcomes of finished jobs so the relay
// can list recent downloads. Backends: in-memory, Redis and PostgreSQL.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
)

// DefaultLimit bounds Recent when the caller passes zero
const DefaultLimit = 20

// ErrClosed is returned by stores used after Close
var ErrClosed = errors.New("history store closed")

// Entry is one finished job.
type Entry struct {
	ID           string      `json:"id"`
	URL          string      `json:"url,omitempty"`
	Handle       job.Handle  `json:"video_id,omitempty"`
	Outcome      job.Outcome `json:"outcome"`
	Title        string      `json:"title,omitempty"`
	DownloadLink string      `json:"download_link,omitempty"`
	ErrorCode    string      `json:"error_code,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	SubmittedAt  time.Time   `json:"submitted_at,omitzero"`
	FinishedAt   time.Time   `json:"finished_at"`
	ExpiresAt    time.Time   `json:"expires_at,omitzero"`
}

// Store persists entries. Recent returns newest first.
type Store interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Pruner is implemented by stores that need periodic cleanup
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Pinger is implemented by stores backed by a network service
type Pinger interface {
	Ping(ctx context.Context) error
}

// Succeeded builds an entry for a successful job.
func Succeeded(url string, submittedAt time.Time, r job.CompletionResult, finishedAt time.Time) Entry {
	return Entry{
		ID:           uuid.NewString(),
		URL:          url,
		Handle:       r.Handle,
		Outcome:      job.OutcomeSuccess,
		Title:        r.Title,
		DownloadLink: r.DownloadLink,
		SubmittedAt:  submittedAt,
		FinishedAt:   finishedAt,
		ExpiresAt:    r.ExpiresAt,
	}
}

// Failed builds an entry for a failed job.
func Failed(url string, handle job.Handle, submittedAt time.Time, err *apperrors.AppError, finishedAt time.Time) Entry {
	return Entry{
		ID:           uuid.NewString(),
		URL:          url,
		Handle:       handle,
		Outcome:      job.OutcomeFailure,
		ErrorCode:    err.Code,
		ErrorMessage: err.Message,
		SubmittedAt:  submittedAt,
		FinishedAt:   finishedAt,
	}
}

func normalizeLimit(limit, max int) int {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}
