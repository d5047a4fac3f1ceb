package jobapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
}

func TestClient_SubmitEncodesForm(t *testing.T) {
	var gotURL, gotType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/download" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotType = r.Header.Get("Content-Type")
		r.ParseForm()
		gotURL = r.PostForm.Get("url")
		w.Write([]byte(`{"status":"progress","video_id":"abc","message":"started"}`))
	})

	resp, err := c.Submit(context.Background(), "https://example.com/watch?v=1&t=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotURL != "https://example.com/watch?v=1&t=2" {
		t.Errorf("url field not round-tripped: %q", gotURL)
	}
	if gotType != "application/x-www-form-urlencoded" {
		t.Errorf("unexpected content type %q", gotType)
	}

	handle, appErr := resp.Handle()
	if appErr != nil || handle != "abc" {
		t.Errorf("expected handle abc, got %q (%v)", handle, appErr)
	}
}

func TestSubmitResponse_Handle(t *testing.T) {
	tests := []struct {
		name string
		resp SubmitResponse
		code string
	}{
		{"accepted", SubmitResponse{Status: "progress", VideoID: "v"}, ""},
		{"missing id", SubmitResponse{Status: "progress"}, apperrors.CodeProtocolError},
		{"remote error", SubmitResponse{Status: "error", Message: "Unsupported URL"}, apperrors.CodeRemoteError},
		{"odd status", SubmitResponse{Status: "queued"}, apperrors.CodeProtocolError},
		{"empty", SubmitResponse{}, apperrors.CodeProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.resp.Handle()
			if tt.code == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if err == nil || err.Code != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestClient_SubmitErrorBodyWith500(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":"error","message":"Unsupported URL"}`))
	})

	resp, err := c.Submit(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("expected the body to be decoded, got %v", err)
	}
	_, appErr := resp.Handle()
	if appErr == nil || appErr.Code != apperrors.CodeRemoteError || appErr.Message != "Unsupported URL" {
		t.Fatalf("expected remote error with server message, got %v", appErr)
	}
}

func TestClient_SubmitUndecodable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := c.Submit(context.Background(), "https://example.com")
	if !apperrors.HasCode(err, apperrors.CodeProtocolError) {
		t.Fatalf("expected PROTOCOL_ERROR, got %v", err)
	}
	if appErr := apperrors.As(err); appErr.Message != MsgInvalidResponse {
		t.Errorf("expected generic message, got %q", appErr.Message)
	}
}

func TestClient_SubmitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := NewClient(Config{BaseURL: srv.URL})
	srv.Close()

	_, err := c.Submit(context.Background(), "https://example.com")
	if !apperrors.HasCode(err, apperrors.CodeTransportError) {
		t.Fatalf("expected TRANSPORT_ERROR, got %v", err)
	}
}

func TestClient_ProgressStatusIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/progress/abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":"downloading"}`))
	})

	_, err := c.Progress(context.Background(), "abc")
	if !apperrors.HasCode(err, apperrors.CodeTransportError) {
		t.Fatalf("expected TRANSPORT_ERROR, got %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("expected status in message, got %v", err)
	}
}

func TestClient_ProgressDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"downloading","progress":"42.0%","speed":"1MiB/s","eta":"00:05","title":"Foo"}`))
	})

	resp, err := c.Progress(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := resp.Report()
	if r.Status != "downloading" || r.Progress != "42.0%" || r.Title != "Foo" || r.ETA != "00:05" {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestClient_ProgressUndecodable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := c.Progress(context.Background(), "abc")
	if !apperrors.HasCode(err, apperrors.CodeProtocolError) {
		t.Fatalf("expected PROTOCOL_ERROR, got %v", err)
	}
	if !errors.Is(err, ErrMalformedBody) {
		t.Errorf("expected ErrMalformedBody in chain, got %v", err)
	}
}

func TestClient_CheckCompletion(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		pending bool
		code    string
	}{
		{"success", http.StatusOK, `{"status":"success","download_link":"https://x/a.mp4","title":"Foo"}`, false, ""},
		{"error with 500", http.StatusInternalServerError, `{"status":"error","message":"File missing"}`, false, apperrors.CodeRemoteError},
		{"waiting", http.StatusAccepted, `{"status":"waiting_for_file","message":"not yet"}`, true, ""},
		{"in progress", http.StatusAccepted, `{"status":"in_progress"}`, true, ""},
		{"unknown tag", http.StatusOK, `{"status":"archived","message":"gone"}`, false, apperrors.CodeProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/check_completion/abc" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			resp, err := c.CheckCompletion(context.Background(), "abc")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Pending() != tt.pending {
				t.Fatalf("expected pending=%v", tt.pending)
			}
			if tt.pending {
				return
			}

			result, appErr := resp.Result("abc")
			if tt.code == "" {
				if appErr != nil {
					t.Fatalf("unexpected error %v", appErr)
				}
				if result.DownloadLink != "https://x/a.mp4" || result.Title != "Foo" || result.Handle != "abc" {
					t.Errorf("payload modified: %+v", result)
				}
				return
			}
			if appErr == nil || appErr.Code != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, appErr)
			}
		})
	}
}

func TestClient_CheckCompletionNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base, Timeout: time.Second})
	_, err := c.CheckCompletion(context.Background(), "abc")
	if !apperrors.HasCode(err, apperrors.CodeTransportError) {
		t.Fatalf("expected TRANSPORT_ERROR, got %v", err)
	}
	if apperrors.As(err).Message != MsgFinalizingNetwork {
		t.Errorf("unexpected message %q", apperrors.As(err).Message)
	}
}

func TestClient_CancelledContextIsNotATransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"downloading"}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Progress(ctx, "abc")
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClient_RateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"status":"downloading"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Progress(context.Background(), "abc"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// burst 1 at 20/s: the 2nd and 3rd calls each wait ~50ms
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected limiter to pace requests, took %v", elapsed)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Errorf("expected 3 hits, got %d", hits)
	}
}
