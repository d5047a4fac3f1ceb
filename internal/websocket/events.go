package websocket

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
)

// EventType names one lifecycle event on the stream.
type EventType string

const (
	EventSubmitting EventType = "submitting"
	EventProgress   EventType = "progress"
	EventSuccess    EventType = "success"
	EventFailure    EventType = "failure"
	EventReset      EventType = "reset"
)

// Event is the JSON frame sent to stream clients.
type Event struct {
	Type         EventType   `json:"type"`
	URL          string      `json:"url,omitempty"`
	VideoID      job.Handle  `json:"video_id,omitempty"`
	Phase        job.Phase   `json:"phase,omitempty"`
	Percent      *float64    `json:"percent,omitempty"`
	Message      string      `json:"message,omitempty"`
	Detail       string      `json:"detail,omitempty"`
	Title        string      `json:"title,omitempty"`
	DownloadLink string      `json:"download_link,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at,omitzero"`
	Error        *EventError `json:"error,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// EventError is the failure payload.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Broadcaster is a sink that relays orchestrator events to every stream
// client. It never blocks the orchestrator.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster relays events through hub
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: time.Now}
}

func (b *Broadcaster) OnSubmitting(url string) {
	b.send(Event{Type: EventSubmitting, URL: url, Message: job.MessageAnalyzing})
}

func (b *Broadcaster) OnProgress(p job.ProgressSnapshot) {
	percent := p.Percent
	b.send(Event{
		Type:    EventProgress,
		VideoID: p.Handle,
		Phase:   p.Phase,
		Percent: &percent,
		Message: p.Message,
		Detail:  p.Detail,
		Title:   p.Title,
	})
}

func (b *Broadcaster) OnSuccess(r job.CompletionResult) {
	b.sendTerminal(Event{
		Type:         EventSuccess,
		VideoID:      r.Handle,
		Message:      r.Message,
		Title:        r.Title,
		DownloadLink: r.DownloadLink,
		ExpiresAt:    r.ExpiresAt,
	})
}

func (b *Broadcaster) OnFailure(err *apperrors.AppError) {
	b.sendTerminal(Event{
		Type:    EventFailure,
		Message: err.Message,
		Error:   &EventError{Code: err.Code, Message: err.Message},
	})
}

func (b *Broadcaster) OnReset() {
	b.send(Event{Type: EventReset})
}

func (b *Broadcaster) send(e Event) {
	if data, ok := b.encode(e); ok {
		b.hub.Broadcast(data)
	}
}

// sendTerminal is used for success and failure, which must never be dropped
func (b *Broadcaster) sendTerminal(e Event) {
	if data, ok := b.encode(e); ok {
		b.hub.BroadcastTerminal(data)
	}
}

func (b *Broadcaster) encode(e Event) ([]byte, bool) {
	e.Timestamp = b.now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		b.hub.log.Error(context.Background(), "failed to encode event", err)
		return nil, false
	}
	return data, true
}
