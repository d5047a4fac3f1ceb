package sink

import (
	"fmt"
	"io"
	"time"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
)

// Console prints human-readable progress lines, skipping repeats.
type Console struct {
	out  io.Writer
	now  func() time.Time
	last string
}

// NewConsole writes to out
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, now: time.Now}
}

func (c *Console) OnSubmitting(url string) {
	c.last = ""
	fmt.Fprintf(c.out, "%s %s\n", job.MessageAnalyzing, url)
}

func (c *Console) OnProgress(p job.ProgressSnapshot) {
	line := fmt.Sprintf("[%5.1f%%] %s", p.Percent, p.Message)
	if p.Detail != "" {
		line += "  " + p.Detail
	}
	if line == c.last {
		return
	}
	c.last = line
	fmt.Fprintln(c.out, line)
}

func (c *Console) OnSuccess(r job.CompletionResult) {
	fmt.Fprintf(c.out, "%s: %s\n", r.Message, r.Title)
	fmt.Fprintf(c.out, "  %s\n", r.DownloadLink)
	if !r.ExpiresAt.IsZero() {
		mins := int(r.ExpiresAt.Sub(c.now()).Round(time.Minute).Minutes())
		fmt.Fprintf(c.out, "  link expires in %d minutes (%s)\n", mins, r.ExpiresAt.Format(time.Kitchen))
	}
}

func (c *Console) OnFailure(err *apperrors.AppError) {
	fmt.Fprintf(c.out, "error: %s\n", err.Message)
}

func (c *Console) OnReset() {
	c.last = ""
}
