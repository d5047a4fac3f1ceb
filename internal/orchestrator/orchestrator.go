// Package orchestrator drives one media job at a time through submission,
// progress polling and the completion check, reporting every transition to
// a sink.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/jobapi"
	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
	"github.com/openmusicplayer/mediafetch/internal/sink"
)

const (
	DefaultPollInterval       = time.Second
	DefaultCompletionInterval = 2 * time.Second
	DefaultLinkTTL            = 10 * time.Minute

	// MsgInvalidURL is reported when a submission fails the local URL check
	MsgInvalidURL = "URL format is invalid."
)

var (
	// ErrSuperseded is returned by Submit when a newer Submit or a Reset
	// replaced the job before the server answered.
	ErrSuperseded = errors.New("submission superseded")

	// ErrClosed is returned by Submit after Close
	ErrClosed = errors.New("orchestrator closed")
)

// API is the subset of the job server client the orchestrator needs.
type API interface {
	Submit(ctx context.Context, sourceURL string) (*jobapi.SubmitResponse, error)
	Progress(ctx context.Context, handle job.Handle) (*jobapi.ProgressResponse, error)
	CheckCompletion(ctx context.Context, handle job.Handle) (*jobapi.CompletionResponse, error)
}

// Config wires an Orchestrator. API and Sink are required.
type Config struct {
	API                API
	Sink               sink.Sink
	Logger             *logger.Logger
	Metrics            *metrics.Metrics
	PollInterval       time.Duration
	CompletionInterval time.Duration
	LinkTTL            time.Duration
	NewTicker          TickerFactory
}

// Orchestrator is the job state machine. All state lives behind mu; sink
// callbacks are made with mu held, so events arrive in order and none can
// follow a terminal event. Sinks must not call back into the Orchestrator.
type Orchestrator struct {
	api                API
	sink               sink.Sink
	log                *logger.Logger
	metrics            *metrics.Metrics
	pollInterval       time.Duration
	completionInterval time.Duration
	linkTTL            time.Duration
	newTicker          TickerFactory
	now                func() time.Time

	mu      sync.Mutex
	gen     uint64
	state   job.State
	title   string
	cancel  context.CancelFunc
	poller  *loop
	checker *loop
	closed  bool

	// tracks loop goroutines and in-flight requests for Close
	wg sync.WaitGroup
}

// New creates an idle Orchestrator
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		api:                cfg.API,
		sink:               cfg.Sink,
		log:                cfg.Logger,
		metrics:            cfg.Metrics,
		pollInterval:       cfg.PollInterval,
		completionInterval: cfg.CompletionInterval,
		linkTTL:            cfg.LinkTTL,
		newTicker:          cfg.NewTicker,
		now:                time.Now,
		state:              job.Idle(),
	}
	if o.sink == nil {
		o.sink = sink.Base{}
	}
	if o.log == nil {
		o.log = logger.Default()
	}
	o.log = o.log.WithComponent("orchestrator")
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.completionInterval <= 0 {
		o.completionInterval = DefaultCompletionInterval
	}
	if o.linkTTL <= 0 {
		o.linkTTL = DefaultLinkTTL
	}
	if o.newTicker == nil {
		o.newTicker = NewRealTicker
	}
	return o
}

// Submit validates url, replaces any current job and submits the new one.
// It blocks only for the submission round-trip; polling continues in the
// background. The returned error is the one also reported to the sink, or
// ErrSuperseded / ErrClosed.
//
// A url that does not start with "http" is rejected with INVALID_INPUT
// before any request is made, and a job already in flight is left alone.
func (o *Orchestrator) Submit(ctx context.Context, url string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}

	if !strings.HasPrefix(url, "http") {
		err := apperrors.InvalidInput(MsgInvalidURL).WithDetail("url", url)
		o.log.Debug(ctx, "submission rejected", map[string]interface{}{"url": url})
		o.sink.OnFailure(err)
		o.mu.Unlock()
		return err
	}

	o.resetLocked(true)
	gen := o.gen
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.setState(job.Submitting(url))
	o.sink.OnSubmitting(url)
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	resp, err := o.api.Submit(jobCtx, url)

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.current(gen, job.KindSubmitting) {
		o.metrics.StaleResult()
		o.log.Debug(ctx, "discarding superseded submission", map[string]interface{}{"url": url})
		return ErrSuperseded
	}

	if err != nil {
		appErr := apperrors.As(err)
		o.failLocked(jobCtx, appErr)
		return appErr
	}

	handle, appErr := resp.Handle()
	if appErr != nil {
		o.failLocked(jobCtx, appErr)
		return appErr
	}

	jobCtx = apperrors.WithJobHandle(jobCtx, string(handle))
	o.setState(job.Polling(url, handle))
	o.log.Debug(jobCtx, "job accepted, polling")
	o.poller = o.startLoop(jobCtx, o.pollInterval, func(ctx context.Context) {
		o.pollOnce(ctx, handle, gen)
	})
	return nil
}

// Reset cancels the current job, if any, and returns to Idle.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.resetLocked(true)
}

// State returns a snapshot of the current state
func (o *Orchestrator) State() job.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	return s
}

// Close cancels everything without notifying the sink, refuses further
// submissions and waits for background requests to unwind.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		o.resetLocked(false)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// resetLocked bumps the generation so every outstanding result is stale.
func (o *Orchestrator) resetLocked(emit bool) {
	o.gen++
	o.stopLoopsLocked()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	wasActive := o.state.Active()
	o.title = ""
	o.setState(job.Idle())
	if wasActive {
		o.log.Debug(context.Background(), "active job cancelled")
	}
	if emit {
		o.sink.OnReset()
	}
}

func (o *Orchestrator) stopLoopsLocked() {
	if o.poller != nil {
		o.poller.stop()
		o.poller = nil
	}
	if o.checker != nil {
		o.checker.stop()
		o.checker = nil
	}
}

// current reports whether a result produced under gen may still be applied.
func (o *Orchestrator) current(gen uint64, kind job.Kind) bool {
	return !o.closed && o.gen == gen && o.state.Kind == kind
}

func (o *Orchestrator) setState(s job.State) {
	s.UpdatedAt = o.now()
	o.state = s
}

// finishLocked moves to a terminal state and invalidates outstanding work.
func (o *Orchestrator) finishLocked(outcome job.Outcome) {
	o.gen++
	o.stopLoopsLocked()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.setState(job.Terminal(o.state.URL, outcome))
}

func (o *Orchestrator) failLocked(ctx context.Context, err *apperrors.AppError) {
	from := o.state
	o.finishLocked(job.OutcomeFailure)
	o.log.WarnErr(ctx, "job failed", err, map[string]interface{}{
		"from_state": from.String(),
	})
	o.sink.OnFailure(err)
}

func (o *Orchestrator) succeedLocked(ctx context.Context, r job.CompletionResult) {
	r.ExpiresAt = o.now().Add(o.linkTTL)
	o.finishLocked(job.OutcomeSuccess)
	o.log.Info(ctx, "job succeeded", map[string]interface{}{
		"title": r.Title,
	})
	o.sink.OnSuccess(r)
}
