package history

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/openmusicplayer/mediafetch/internal/errors"
	"github.com/openmusicplayer/mediafetch/internal/job"
)

func sampleEntries(now time.Time) []Entry {
	ok := Succeeded("https://example.com/a", now.Add(-time.Minute), job.CompletionResult{
		Handle:       "a",
		DownloadLink: "https://x/a.mp4",
		Title:        "Foo",
		ExpiresAt:    now.Add(10 * time.Minute),
	}, now.Add(-30*time.Second))
	bad := Failed("https://example.com/b", "b", now.Add(-20*time.Second), apperrors.RemoteError("Unsupported URL"), now)
	return []Entry{ok, bad}
}

func TestMemoryStore_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)
	for _, e := range sampleEntries(time.Now()) {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Handle != "b" || got[0].ErrorCode != apperrors.CodeRemoteError {
		t.Errorf("expected newest failure first, got %+v", got[0])
	}
	if got[1].DownloadLink != "https://x/a.mp4" || got[1].Outcome != job.OutcomeSuccess {
		t.Errorf("unexpected success entry %+v", got[1])
	}
}

func TestMemoryStore_Capacity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)
	for i := 0; i < 5; i++ {
		s.Record(ctx, Entry{ID: string(rune('a' + i)), FinishedAt: time.Now()})
	}

	got, _ := s.Recent(ctx, 10)
	if len(got) != 3 {
		t.Fatalf("expected capacity to cap entries at 3, got %d", len(got))
	}
	if got[0].ID != "e" || got[2].ID != "c" {
		t.Errorf("unexpected order %v %v", got[0].ID, got[2].ID)
	}
}

func TestMemoryStore_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore(10)
	s.Record(ctx, Entry{ID: "old", FinishedAt: now.Add(-48 * time.Hour)})
	s.Record(ctx, Entry{ID: "new", FinishedAt: now})

	removed, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 removed, got %d (%v)", removed, err)
	}
	got, _ := s.Recent(ctx, 10)
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("unexpected entries after prune: %+v", got)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(1)
	s.Close()
	if err := s.Record(context.Background(), Entry{}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPruneScheduler_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore(10)
	s.Record(ctx, Entry{ID: "old", FinishedAt: now.Add(-2 * time.Hour)})

	p := NewPruneScheduler(s, time.Hour, nil)
	p.RunOnce()

	got, _ := s.Recent(ctx, 10)
	if len(got) != 0 {
		t.Errorf("expected old entry pruned, got %+v", got)
	}
}

func TestPruneScheduler_InvalidSchedule(t *testing.T) {
	p := NewPruneScheduler(NewMemoryStore(1), time.Hour, nil)
	if err := p.Start("not a schedule"); err == nil {
		t.Error("expected invalid cron expression to fail")
	}
}

func TestRedisStore(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/15"
	}

	ctx := context.Background()
	s, err := NewRedisStore(ctx, redisURL, 10)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer s.Close()
	s.client.Del(ctx, keyRecent)

	entries := sampleEntries(time.Now())
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	ttl, err := s.client.TTL(ctx, keyEntryPrefix+entries[0].ID).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > 10*time.Minute {
		t.Errorf("expected ttl bounded by link expiry, got %v", ttl)
	}

	// An expired entry key drops out of Recent
	s.client.Del(ctx, keyEntryPrefix+entries[0].ID)

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Handle != "b" {
		t.Errorf("unexpected entries %+v", got)
	}

	if err := s.client.Get(ctx, keyEntryPrefix+"missing").Err(); err != redis.Nil {
		t.Errorf("expected redis.Nil for missing key, got %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	s := NewPostgresStore(db)
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.ExecContext(ctx, `DELETE FROM job_history`)

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, e := range sampleEntries(now) {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Handle != "b" {
		t.Fatalf("unexpected entries %+v", got)
	}
	if got[1].ExpiresAt.IsZero() || !got[0].ExpiresAt.IsZero() {
		t.Errorf("expires_at not round-tripped: %+v", got)
	}

	removed, err := s.Prune(ctx, now.Add(-10*time.Second))
	if err != nil || removed != 1 {
		t.Errorf("expected one pruned row, got %d (%v)", removed, err)
	}
}
