package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/history"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/orchestrator"
)

const (
	maxBodyBytes    = 64 << 10
	maxHistoryLimit = 100
)

// Jobs is the orchestrator as the relay drives it.
type Jobs interface {
	Submit(ctx context.Context, url string) error
	Reset()
	State() job.State
}

type JobHandlers struct {
	jobs    Jobs
	history history.Store
}

func NewJobHandlers(jobs Jobs, store history.Store) *JobHandlers {
	return &JobHandlers{jobs: jobs, history: store}
}

// SubmitRequest is the JSON body of POST /api/v1/jobs
type SubmitRequest struct {
	URL string `json:"url"`
}

// HistoryResponse is the body of GET /api/v1/history
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}

// Submit handles POST /api/v1/jobs. It answers once the job server has
// accepted or refused the submission.
func (h *JobHandlers) Submit(w http.ResponseWriter, r *http.Request) error {
	url, err := readURL(w, r)
	if err != nil {
		return err
	}

	if err := h.jobs.Submit(r.Context(), url); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrSuperseded):
			return apperrors.Conflict("submission was replaced by a newer one")
		case errors.Is(err, orchestrator.ErrClosed):
			return apperrors.New("UNAVAILABLE", "relay is shutting down", apperrors.CategoryServer, http.StatusServiceUnavailable)
		default:
			return err
		}
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusAccepted, h.jobs.State())
	return nil
}

func readURL(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "", apperrors.BadRequest("invalid form body").WithCause(err)
		}
		return r.PostFormValue("url"), nil
	default:
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", apperrors.BadRequest("invalid request body").WithCause(err)
		}
		return req.URL, nil
	}
}

// Current handles GET /api/v1/jobs/current
func (h *JobHandlers) Current(w http.ResponseWriter, r *http.Request) error {
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, h.jobs.State())
	return nil
}

// Reset handles DELETE /api/v1/jobs/current
func (h *JobHandlers) Reset(w http.ResponseWriter, r *http.Request) error {
	h.jobs.Reset()
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// History handles GET /api/v1/history?limit=N
func (h *JobHandlers) History(w http.ResponseWriter, r *http.Request) error {
	limit := history.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			return apperrors.BadRequest("limit must be between 1 and 100").WithDetail("limit", raw)
		}
		limit = n
	}

	resp := HistoryResponse{Entries: []history.Entry{}}
	if h.history != nil {
		entries, err := h.history.Recent(r.Context(), limit)
		if err != nil {
			return apperrors.DatabaseError("failed to load history").WithCause(err)
		}
		if entries != nil {
			resp.Entries = entries
		}
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}
