// Package archive copies finished artifacts into object storage before the
// job server deletes them.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
	"github.com/openmusicplayer/mediafetch/internal/sink"
	"github.com/openmusicplayer/mediafetch/internal/storage"
)

const (
	// DefaultTimeout bounds one archive run, fetch and upload included
	DefaultTimeout = 10 * time.Minute

	keyPrefix = "archive"
)

// ErrAlreadyArchived is returned by Archive when the job's metadata sidecar
// is already in storage.
var ErrAlreadyArchived = errors.New("artifact already archived")

// Metadata is stored next to every archived artifact.
type Metadata struct {
	VideoID      job.Handle `json:"video_id"`
	Title        string     `json:"title"`
	SourceURL    string     `json:"source_url,omitempty"`
	DownloadLink string     `json:"download_link"`
	ObjectKey    string     `json:"object_key"`
	Size         int64      `json:"size"`
	ContentType  string     `json:"content_type,omitempty"`
	ArchivedAt   time.Time  `json:"archived_at"`
}

// Config wires an Archiver. Storage is required.
type Config struct {
	Storage    storage.Storage
	HTTPClient *http.Client
	BaseURL    string // resolves relative download links
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	Timeout    time.Duration
	TempDir    string

	// nil selects ArtifactFetchRetryConfig and StorageRetryConfig
	FetchRetry *apperrors.RetryConfig
	StoreRetry *apperrors.RetryConfig
}

// Archiver is a sink that archives each successful job's artifact. Uploads
// run in the background; Wait blocks until they finish.
type Archiver struct {
	sink.Base

	store      storage.Storage
	client     *http.Client
	base       *url.URL
	log        *logger.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
	tempDir    string
	fetchRetry *apperrors.RetryConfig
	storeRetry *apperrors.RetryConfig
	now        func() time.Time

	url string
	wg  sync.WaitGroup
}

// New creates an Archiver
func New(cfg Config) (*Archiver, error) {
	a := &Archiver{
		store:      cfg.Storage,
		client:     cfg.HTTPClient,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		timeout:    cfg.Timeout,
		tempDir:    cfg.TempDir,
		fetchRetry: cfg.FetchRetry,
		storeRetry: cfg.StoreRetry,
		now:        time.Now,
	}
	if a.store == nil {
		return nil, storage.ErrNotConfigured
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		a.base = base
	}
	if a.client == nil {
		a.client = &http.Client{}
	}
	if a.log == nil {
		a.log = logger.Default()
	}
	a.log = a.log.WithComponent("archive")
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.fetchRetry == nil {
		a.fetchRetry = apperrors.ArtifactFetchRetryConfig()
	}
	if a.storeRetry == nil {
		a.storeRetry = apperrors.StorageRetryConfig()
	}
	return a, nil
}

func (a *Archiver) OnSubmitting(url string) {
	a.url = url
}

func (a *Archiver) OnSuccess(r job.CompletionResult) {
	sourceURL := a.url
	a.url = ""

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		ctx = apperrors.WithJobHandle(ctx, string(r.Handle))

		meta, err := a.Archive(ctx, r, sourceURL)
		if errors.Is(err, ErrAlreadyArchived) {
			a.log.Debug(ctx, "artifact already archived")
			return
		}
		if err != nil {
			a.metrics.IncCounter("archive_failed")
			a.log.Error(ctx, "archive failed", err, map[string]interface{}{
				"download_link": r.DownloadLink,
			})
			return
		}
		a.metrics.IncCounter("archive_stored")
		a.log.Info(ctx, "artifact archived", map[string]interface{}{
			"key":  meta.ObjectKey,
			"size": meta.Size,
		})
	}()
}

// OnFailure forgets the source URL unless the failure is a rejected
// submission, which never touches the running job.
func (a *Archiver) OnFailure(err *apperrors.AppError) {
	if err.Code == apperrors.CodeInvalidInput {
		return
	}
	a.url = ""
}

func (a *Archiver) OnReset() { a.url = "" }

// Wait blocks until pending archive runs complete
func (a *Archiver) Wait() {
	a.wg.Wait()
}

// ObjectKey is the storage key for an artifact: archive/<video_id>/<slug><ext>.
// An empty slug falls back to the video id.
func ObjectKey(handle job.Handle, title, ext string) string {
	name := Slug(title)
	if name == "" {
		name = string(handle)
	}
	return fmt.Sprintf("%s/%s/%s%s", keyPrefix, handle, name, ext)
}

// MetadataKey is the storage key of the JSON sidecar for handle
func MetadataKey(handle job.Handle) string {
	return fmt.Sprintf("%s/%s/metadata.json", keyPrefix, handle)
}

// Archive fetches the artifact behind r.DownloadLink and stores it with its
// metadata. An artifact that is already archived is not fetched again.
func (a *Archiver) Archive(ctx context.Context, r job.CompletionResult, sourceURL string) (*Metadata, error) {
	link, err := a.resolve(r.DownloadLink)
	if err != nil {
		return nil, err
	}

	exists, err := a.store.Exists(ctx, MetadataKey(r.Handle))
	if err != nil {
		return nil, apperrors.StorageError("failed to check archive").WithCause(err)
	}
	if exists {
		return nil, ErrAlreadyArchived
	}

	art, err := apperrors.RetryWithResult(ctx, a.fetchRetry, func(ctx context.Context) (*artifact, error) {
		return a.fetch(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	file := art.file
	defer func() {
		file.Close()
		os.Remove(file.Name())
	}()

	info, err := file.Stat()
	if err != nil {
		return nil, apperrors.InternalError("failed to stat artifact").WithCause(err)
	}

	meta := &Metadata{
		VideoID:      r.Handle,
		Title:        r.Title,
		SourceURL:    sourceURL,
		DownloadLink: link,
		ObjectKey:    ObjectKey(r.Handle, r.Title, extension(link, art.contentType)),
		Size:         info.Size(),
		ContentType:  art.contentType,
		ArchivedAt:   a.now().UTC(),
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}

	err = apperrors.Retry(ctx, a.storeRetry, func(ctx context.Context) error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := a.store.Put(ctx, meta.ObjectKey, file, meta.Size, meta.ContentType); err != nil {
			return apperrors.StorageError("failed to upload artifact").WithCause(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(meta)
	if err != nil {
		return nil, apperrors.InternalError("failed to encode metadata").WithCause(err)
	}
	err = apperrors.Retry(ctx, a.storeRetry, func(ctx context.Context) error {
		if err := a.store.Put(ctx, MetadataKey(r.Handle), bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
			return apperrors.StorageError("failed to upload metadata").WithCause(err)
		}
		return nil
	})
	if err != nil {
		// Without its sidecar the artifact would be fetched again next time
		_ = a.store.Delete(ctx, meta.ObjectKey)
		return nil, err
	}

	return meta, nil
}

func (a *Archiver) resolve(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil || link == "" {
		return "", apperrors.BadRequest("invalid download link").WithDetail("download_link", link)
	}
	if u.IsAbs() {
		return link, nil
	}
	if a.base == nil {
		return "", apperrors.BadRequest("relative download link without a base url").WithDetail("download_link", link)
	}
	return a.base.ResolveReference(u).String(), nil
}

// artifact is a fetched download spooled to a temp file
type artifact struct {
	file        *os.File
	contentType string
}

func (a *Archiver) fetch(ctx context.Context, link string) (*artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, apperrors.BadRequest("invalid download link").WithCause(err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.TransportError("failed to fetch artifact").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("artifact fetch returned HTTP %d", resp.StatusCode)
		if apperrors.HTTPRetryableStatus(resp.StatusCode) {
			return nil, apperrors.TransportError(msg)
		}
		return nil, apperrors.RemoteError(msg).WithDetail("status", resp.StatusCode)
	}

	file, err := os.CreateTemp(a.tempDir, "mediafetch-*")
	if err != nil {
		return nil, apperrors.InternalError("failed to create temp file").WithCause(err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, apperrors.TransportError("artifact download interrupted").WithCause(err)
	}
	return &artifact{file: file, contentType: resp.Header.Get("Content-Type")}, nil
}
