package job

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// User-facing status lines
const (
	MessageAnalyzing      = "Analyzing media..."
	MessageExtracting     = "Extracting media info..."
	MessageDownloading    = "Downloading..."
	MessagePostprocessing = "Processing file (merging/converting)..."
	MessageFinalizing     = "Download complete. Preparing file..."
	MessageInitializing   = "Initializing..."

	// MessageDownloadFailed is used when an error phase carries no message
	MessageDownloadFailed = "An error occurred during download."
)

// Report is one poll response as the server sent it, before interpretation.
// Empty strings stand for absent fields.
type Report struct {
	Status       string
	Progress     string
	Speed        string
	ETA          string
	Title        string
	ErrorMessage string
}

// ProgressSnapshot is the decoded form of one poll response. It is
// superseded by the next snapshot and never persisted.
type ProgressSnapshot struct {
	Handle       Handle  `json:"video_id"`
	Phase        Phase   `json:"phase"`
	Percent      float64 `json:"percent"`
	Speed        string  `json:"speed,omitempty"`
	ETA          string  `json:"eta,omitempty"`
	Title        string  `json:"title,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	Detail       string  `json:"detail,omitempty"`
	Message      string  `json:"message"`
}

// Decode interprets a poll report for handle.
func Decode(handle Handle, r Report) ProgressSnapshot {
	phase := ParsePhase(r.Status)

	progressText := strings.TrimSpace(r.Progress)
	if progressText == "" {
		progressText = "0%"
	}

	s := ProgressSnapshot{
		Handle:       handle,
		Phase:        phase,
		Percent:      ParsePercent(progressText),
		Speed:        r.Speed,
		ETA:          r.ETA,
		Title:        r.Title,
		ErrorMessage: r.ErrorMessage,
	}

	if phase == PhasePostprocessing {
		s.Percent = 100
	}
	if r.Speed != "" && r.ETA != "" {
		s.Detail = fmt.Sprintf("speed: %s / eta: %s", r.Speed, r.ETA)
	}

	switch phase {
	case PhaseExtracting:
		s.Message = MessageExtracting
		if r.Title != "" {
			s.Message += " (" + r.Title + ")"
		}
	case PhaseDownloading:
		s.Message = MessageDownloading + " " + progressText
	case PhasePostprocessing:
		s.Message = MessagePostprocessing
	case PhaseCompleted:
		s.Message = MessageFinalizing
	case PhaseError:
		s.Message = r.ErrorMessage
		if s.Message == "" {
			s.Message = MessageDownloadFailed
		}
	default:
		s.Message = MessageInitializing
	}

	return s
}

// Finalizing returns the transitional snapshot emitted once the Poller hands
// the job to the Completion Checker.
func Finalizing(handle Handle, title string) ProgressSnapshot {
	return ProgressSnapshot{
		Handle:  handle,
		Phase:   PhaseCompleted,
		Percent: 100,
		Title:   title,
		Message: MessageFinalizing,
	}
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParsePercent reads a percentage such as " 42.7%" the way a browser's
// parseFloat would: the leading number wins and trailing text is ignored.
// Unparseable input yields 0. The result is clamped to [0,100].
func ParsePercent(text string) float64 {
	t := strings.TrimSpace(strings.ReplaceAll(text, "%", ""))

	var v float64
	switch {
	case strings.HasPrefix(t, "Infinity"), strings.HasPrefix(t, "+Infinity"):
		v = math.Inf(1)
	case strings.HasPrefix(t, "-Infinity"):
		v = math.Inf(-1)
	default:
		m := leadingNumber.FindString(t)
		if m == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(m, 64)
		if err != nil {
			// Exponent overflow still yields ±Inf from ParseFloat
			if parsed == 0 {
				return 0
			}
		}
		v = parsed
	}

	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
