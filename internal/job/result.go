package job

import "time"

// Outcome is the terminal result of a job.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// MessageReady is the status line attached to a successful result
const MessageReady = "Download ready"

// CompletionResult is produced exactly once per job by the Completion Checker.
// DownloadLink and Title are passed through from the server unmodified.
type CompletionResult struct {
	Handle       Handle    `json:"video_id"`
	Outcome      Outcome   `json:"outcome"`
	DownloadLink string    `json:"download_link"`
	Title        string    `json:"title"`
	Message      string    `json:"message,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the server has likely already removed the artifact.
func (r CompletionResult) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
