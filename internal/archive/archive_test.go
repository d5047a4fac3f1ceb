package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/sink"
)

var _ sink.Sink = (*Archiver)(nil)

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memStorage) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) Ping(ctx context.Context) error { return nil }
func (m *memStorage) Bucket() string                 { return "test" }

func (m *memStorage) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

func fastRetry() *apperrors.RetryConfig {
	return &apperrors.RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func newTestArchiver(t *testing.T, store *memStorage, baseURL string) *Archiver {
	t.Helper()
	a, err := New(Config{
		Storage:    store,
		BaseURL:    baseURL,
		Logger:     logger.New(&logger.Config{Output: &bytes.Buffer{}, Level: logger.LevelError}),
		TempDir:    t.TempDir(),
		FetchRetry: fastRetry(),
		StoreRetry: fastRetry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Clip", "my-clip"},
		{"Beyoncé – Déjà Vu (Live)", "beyonce-deja-vu-live"},
		{"  --hello__world--  ", "hello-world"},
		{"日本語", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlug_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "abcd "
	}
	got := Slug(long)
	if len(got) > maxSlugLen {
		t.Errorf("expected at most %d chars, got %d", maxSlugLen, len(got))
	}
	if got[len(got)-1] == '-' {
		t.Errorf("slug should not end with a dash: %q", got)
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("abc", "My Clip", ".mp4"); got != "archive/abc/my-clip.mp4" {
		t.Errorf("unexpected key %s", got)
	}
	if got := ObjectKey("abc", "日本語", ".mp4"); got != "archive/abc/abc.mp4" {
		t.Errorf("expected handle fallback, got %s", got)
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		link, contentType, want string
	}{
		{"https://x/files/a.MP4", "", ".mp4"},
		{"https://x/files/a.webm?sig=1", "video/mp4", ".webm"},
		{"https://x/download/abc", "application/json", ".json"},
		{"https://x/download/abc", "", ".bin"},
	}

	for _, tt := range tests {
		if got := extension(tt.link, tt.contentType); got != tt.want {
			t.Errorf("extension(%q, %q) = %q, want %q", tt.link, tt.contentType, got, tt.want)
		}
	}
}

func TestArchive_StoresArtifactAndMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/downloads/abc.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("video bytes"))
	}))
	defer srv.Close()

	store := newMemStorage()
	a := newTestArchiver(t, store, srv.URL)

	result := job.CompletionResult{
		Handle:       "abc",
		Outcome:      job.OutcomeSuccess,
		DownloadLink: "/downloads/abc.mp4",
		Title:        "My Clip",
	}
	meta, err := a.Archive(context.Background(), result, "https://example.com/watch?v=1")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if meta.ObjectKey != "archive/abc/my-clip.mp4" {
		t.Errorf("unexpected key %s", meta.ObjectKey)
	}
	if meta.DownloadLink != srv.URL+"/downloads/abc.mp4" {
		t.Errorf("expected resolved link, got %s", meta.DownloadLink)
	}
	if data, ok := store.get(meta.ObjectKey); !ok || string(data) != "video bytes" {
		t.Errorf("expected artifact body, got %q", data)
	}
	if store.types[meta.ObjectKey] != "video/mp4" {
		t.Errorf("expected video/mp4, got %s", store.types[meta.ObjectKey])
	}

	raw, ok := store.get(MetadataKey("abc"))
	if !ok {
		t.Fatal("expected metadata sidecar")
	}
	var stored Metadata
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("bad metadata: %v", err)
	}
	if stored.Size != int64(len("video bytes")) || stored.SourceURL != "https://example.com/watch?v=1" {
		t.Errorf("unexpected metadata %+v", stored)
	}

	if _, err := a.Archive(context.Background(), result, ""); !errors.Is(err, ErrAlreadyArchived) {
		t.Errorf("expected ErrAlreadyArchived, got %v", err)
	}
}

func TestArchive_FetchErrors(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCode  string
		wantCalls int32
	}{
		{"not found is final", []int{http.StatusNotFound}, apperrors.CodeRemoteError, 1},
		{"unavailable is retried", []int{503, 503, 503}, apperrors.CodeTransportError, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				w.WriteHeader(tt.statuses[min(int(n)-1, len(tt.statuses)-1)])
			}))
			defer srv.Close()

			store := newMemStorage()
			a := newTestArchiver(t, store, "")
			_, err := a.Archive(context.Background(), job.CompletionResult{
				Handle:       "abc",
				DownloadLink: srv.URL + "/a.mp4",
			}, "")

			if !apperrors.HasCode(err, tt.wantCode) {
				t.Errorf("expected %s, got %v", tt.wantCode, err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls.Load())
			}
			if len(store.objects) != 0 {
				t.Errorf("expected nothing stored, got %v", store.objects)
			}
		})
	}
}

func TestArchive_RetriesUntilFetched(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := newMemStorage()
	a := newTestArchiver(t, store, "")
	meta, err := a.Archive(context.Background(), job.CompletionResult{
		Handle:       "abc",
		Title:        "Clip",
		DownloadLink: srv.URL + "/clip.mp3",
	}, "")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if meta.ObjectKey != "archive/abc/clip.mp3" {
		t.Errorf("unexpected key %s", meta.ObjectKey)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestArchive_UploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	store := newMemStorage()
	store.putErr = errors.New("bucket unavailable")
	a := newTestArchiver(t, store, "")

	_, err := a.Archive(context.Background(), job.CompletionResult{Handle: "abc", DownloadLink: srv.URL + "/a.mp4"}, "")
	if !apperrors.HasCode(err, apperrors.CodeStorageError) {
		t.Errorf("expected STORAGE_ERROR, got %v", err)
	}
}

func TestArchive_RelativeLinkWithoutBase(t *testing.T) {
	a := newTestArchiver(t, newMemStorage(), "")
	_, err := a.Archive(context.Background(), job.CompletionResult{Handle: "abc", DownloadLink: "/a.mp4"}, "")
	if !apperrors.HasCode(err, apperrors.CodeInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestArchiver_SinkArchivesOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("media"))
	}))
	defer srv.Close()

	store := newMemStorage()
	a := newTestArchiver(t, store, "")

	a.OnSubmitting("https://example.com/v")
	a.OnSuccess(job.CompletionResult{Handle: "xyz", Title: "Song", DownloadLink: srv.URL + "/song.mp3"})
	a.Wait()

	if data, ok := store.get("archive/xyz/song.mp3"); !ok || string(data) != "media" {
		t.Errorf("expected archived object, got %q", data)
	}
	raw, _ := store.get(MetadataKey("xyz"))
	var meta Metadata
	json.Unmarshal(raw, &meta)
	if meta.SourceURL != "https://example.com/v" {
		t.Errorf("expected source url to be carried, got %q", meta.SourceURL)
	}
}

func TestArchiver_SourceURLAcrossFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("media"))
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		failure *apperrors.AppError
		want    string
	}{
		{"invalid input keeps running job", apperrors.InvalidInput("URL format is invalid.").WithDetail("url", "nope"), "https://example.com/v"},
		{"job failure clears it", apperrors.RemoteError("Unsupported URL"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStorage()
			a := newTestArchiver(t, store, "")

			a.OnSubmitting("https://example.com/v")
			a.OnFailure(tt.failure)
			a.OnSuccess(job.CompletionResult{Handle: "xyz", Title: "Song", DownloadLink: srv.URL + "/song.mp3"})
			a.Wait()

			raw, ok := store.get(MetadataKey("xyz"))
			if !ok {
				t.Fatal("expected metadata to be stored")
			}
			var meta Metadata
			if err := json.Unmarshal(raw, &meta); err != nil {
				t.Fatalf("decode metadata: %v", err)
			}
			if meta.SourceURL != tt.want {
				t.Errorf("expected source url %q, got %q", tt.want, meta.SourceURL)
			}
		})
	}
}

func TestNew_RequiresStorage(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected an error without storage")
	}
}
