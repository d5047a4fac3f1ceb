// Package jobapi is the HTTP client for the remote media job server: job
// submission, progress polling and the completion check.
package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
)

const (
	userAgent      = "mediafetch/1.0"
	requestTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Failure messages surfaced to the user
const (
	MsgUnreachable       = "Problem communicating with the server."
	MsgInvalidResponse   = "Invalid response from server."
	MsgUnexpectedError   = "An unexpected error occurred."
	MsgFinalizingNetwork = "Network error while finalizing the file."
)

// ErrMalformedBody marks a 2xx response whose body could not be decoded.
// Progress wraps it so the Poller can skip the tick and keep going.
var ErrMalformedBody = errors.New("malformed response body")

// Config configures a Client
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; zero disables limiting
	Burst      int
	HTTPClient *http.Client
}

// Client talks to the job server
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a job server client
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = requestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// BaseURL returns the server root the client is bound to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitResponse is the raw reply to POST /download
type SubmitResponse struct {
	Status  string `json:"status"`
	VideoID string `json:"video_id"`
	Message string `json:"message"`
}

// Handle interprets the submission reply. An accepted job yields its handle;
// an explicit error yields a REMOTE_ERROR; every other shape is a
// PROTOCOL_ERROR.
func (r *SubmitResponse) Handle() (job.Handle, *apperrors.AppError) {
	switch r.Status {
	case "progress":
		if r.VideoID == "" {
			return "", apperrors.ProtocolError(MsgInvalidResponse).WithDetail("status", r.Status)
		}
		return job.Handle(r.VideoID), nil
	case "error":
		return "", remoteError(r.Message)
	default:
		return "", apperrors.ProtocolError(MsgInvalidResponse).WithDetail("status", r.Status)
	}
}

// ProgressResponse is the raw reply to GET /progress/{video_id}
type ProgressResponse struct {
	Status       string `json:"status"`
	Progress     string `json:"progress"`
	Speed        string `json:"speed"`
	ETA          string `json:"eta"`
	Title        string `json:"title"`
	ErrorMessage string `json:"error_message"`
}

// Report converts the wire form into the job package's uninterpreted report
func (r *ProgressResponse) Report() job.Report {
	return job.Report{
		Status:       r.Status,
		Progress:     r.Progress,
		Speed:        r.Speed,
		ETA:          r.ETA,
		Title:        r.Title,
		ErrorMessage: r.ErrorMessage,
	}
}

// Completion status tags
const (
	CompletionSuccess        = "success"
	CompletionError          = "error"
	CompletionInProgress     = "in_progress"
	CompletionWaitingForFile = "waiting_for_file"
)

// CompletionResponse is the raw reply to GET /check_completion/{video_id}
type CompletionResponse struct {
	Status       string `json:"status"`
	DownloadLink string `json:"download_link"`
	Title        string `json:"title"`
	Message      string `json:"message"`
}

// Pending reports whether the server is still flushing the artifact
func (r *CompletionResponse) Pending() bool {
	return r.Status == CompletionInProgress || r.Status == CompletionWaitingForFile
}

// Result interprets a non-pending completion reply for handle.
func (r *CompletionResponse) Result(handle job.Handle) (job.CompletionResult, *apperrors.AppError) {
	switch r.Status {
	case CompletionSuccess:
		return job.CompletionResult{
			Handle:       handle,
			Outcome:      job.OutcomeSuccess,
			DownloadLink: r.DownloadLink,
			Title:        r.Title,
			Message:      job.MessageReady,
		}, nil
	case CompletionError:
		return job.CompletionResult{}, remoteError(r.Message)
	default:
		msg := r.Message
		if msg == "" {
			msg = MsgInvalidResponse
		}
		return job.CompletionResult{}, apperrors.ProtocolError(msg).WithDetail("status", r.Status)
	}
}

func remoteError(msg string) *apperrors.AppError {
	if msg == "" {
		msg = MsgUnexpectedError
	}
	return apperrors.RemoteError(msg)
}

// Submit posts sourceURL as a form field. The body is decoded whatever the
// status code, because the server reports errors with a 500 and a JSON body.
func (c *Client) Submit(ctx context.Context, sourceURL string) (*SubmitResponse, error) {
	form := url.Values{"url": {sourceURL}}
	req, err := c.newRequest(ctx, http.MethodPost, "/download", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return nil, c.transportErr(ctx, MsgUnreachable, err)
	}
	defer resp.Body.Close()

	var out SubmitResponse
	if err := decodeBody(resp.Body, &out); err != nil {
		return nil, apperrors.ProtocolError(MsgInvalidResponse).
			WithCause(err).
			WithDetail("http_status", resp.StatusCode)
	}
	return &out, nil
}

// Progress polls one job. Any non-2xx status is a TRANSPORT_ERROR; a 2xx body
// that does not decode is a PROTOCOL_ERROR wrapping ErrMalformedBody.
func (c *Client) Progress(ctx context.Context, handle job.Handle) (*ProgressResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/progress/"+url.PathEscape(string(handle)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, c.transportErr(ctx, "Error while checking progress.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, apperrors.TransportError(fmt.Sprintf("Error while checking progress (HTTP %d).", resp.StatusCode)).
			WithDetail("http_status", resp.StatusCode)
	}

	var out ProgressResponse
	if err := decodeBody(resp.Body, &out); err != nil {
		return nil, apperrors.ProtocolError(MsgInvalidResponse).
			WithCause(fmt.Errorf("%w: %v", ErrMalformedBody, err))
	}
	return &out, nil
}

// CheckCompletion asks whether the finished artifact is ready. The body is
// decoded whatever the status code: pending replies use 202 and errors 500.
func (c *Client) CheckCompletion(ctx context.Context, handle job.Handle) (*CompletionResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/check_completion/"+url.PathEscape(string(handle)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, c.transportErr(ctx, MsgFinalizingNetwork, err)
	}
	defer resp.Body.Close()

	var out CompletionResponse
	if err := decodeBody(resp.Body, &out); err != nil {
		return nil, apperrors.TransportError(MsgFinalizingNetwork).
			WithCause(err).
			WithDetail("http_status", resp.StatusCode)
	}
	return &out, nil
}

// Ping checks that the server answers HTTP at all
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("job server unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("job server returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.InternalError("failed to build request").WithCause(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// transportErr hands back a bare context error when the caller cancelled,
// so superseded requests are recognisable and never reported.
func (c *Client) transportErr(ctx context.Context, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return apperrors.TransportError(msg).WithCause(err)
}

func decodeBody(r io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty response body")
		}
		return err
	}
	return nil
}
