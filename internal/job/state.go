package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags which orchestrator state is active.
type Kind int

const (
	KindIdle Kind = iota
	KindSubmitting
	KindPolling
	KindCheckingCompletion
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindSubmitting:
		return "submitting"
	case KindPolling:
		return "polling"
	case KindCheckingCompletion:
		return "checking_completion"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// State is a read-only snapshot of the orchestrator. Handle is set only for
// Polling and CheckingCompletion; Outcome only for Terminal.
type State struct {
	Kind      Kind
	Handle    Handle
	Outcome   Outcome
	URL       string
	Progress  *ProgressSnapshot
	UpdatedAt time.Time
}

func Idle() State { return State{Kind: KindIdle} }

func Submitting(url string) State { return State{Kind: KindSubmitting, URL: url} }

func Polling(url string, h Handle) State {
	return State{Kind: KindPolling, URL: url, Handle: h}
}

func CheckingCompletion(url string, h Handle) State {
	return State{Kind: KindCheckingCompletion, URL: url, Handle: h}
}

func Terminal(url string, o Outcome) State {
	return State{Kind: KindTerminal, URL: url, Outcome: o}
}

// Active reports whether a job is in flight.
func (s State) Active() bool {
	return s.Kind == KindSubmitting || s.Kind == KindPolling || s.Kind == KindCheckingCompletion
}

func (s State) String() string {
	switch s.Kind {
	case KindPolling, KindCheckingCompletion:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Handle)
	case KindTerminal:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Outcome)
	default:
		return s.Kind.String()
	}
}

type stateJSON struct {
	State     Kind              `json:"state"`
	Handle    Handle            `json:"video_id,omitempty"`
	Outcome   Outcome           `json:"outcome,omitempty"`
	URL       string            `json:"url,omitempty"`
	Progress  *ProgressSnapshot `json:"progress,omitempty"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

// MarshalJSON renders the state for the relay API
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		State:    s.Kind,
		Handle:   s.Handle,
		Outcome:  s.Outcome,
		URL:      s.URL,
		Progress: s.Progress,
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		out.UpdatedAt = &t
	}
	return json.Marshal(out)
}
