package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/openmusicplayer/mediafetch/internal/job"
)

// PostgresConfig holds connection parameters
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c PostgresConfig) dsn() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslmode,
	)
}

// PostgresStore keeps every entry in the job_history table.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, pings and migrates
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open database
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the connection for health checks
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_history (
		id UUID PRIMARY KEY,
		url TEXT NOT NULL DEFAULT '',
		video_id VARCHAR(255) NOT NULL DEFAULT '',
		outcome VARCHAR(16) NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		download_link TEXT NOT NULL DEFAULT '',
		error_code VARCHAR(64) NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMP WITH TIME ZONE,
		finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_job_history_finished_at ON job_history(finished_at DESC);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO job_history (id, url, video_id, outcome, title, download_link,
			error_code, error_message, submitted_at, finished_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.URL, string(e.Handle), string(e.Outcome), e.Title, e.DownloadLink,
		e.ErrorCode, e.ErrorMessage, nullTime(e.SubmittedAt), e.FinishedAt, nullTime(e.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit, 500)

	query := `
		SELECT id, url, video_id, outcome, title, download_link,
			error_code, error_message, submitted_at, finished_at, expires_at
		FROM job_history
		ORDER BY finished_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                      Entry
			handle, outcome        string
			submittedAt, expiresAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.URL, &handle, &outcome, &e.Title, &e.DownloadLink,
			&e.ErrorCode, &e.ErrorMessage, &submittedAt, &e.FinishedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Handle = job.Handle(handle)
		e.Outcome = job.Outcome(outcome)
		e.SubmittedAt = submittedAt.Time
		e.ExpiresAt = expiresAt.Time
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries that finished before the cutoff
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_history WHERE finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
