package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every key Load reads, restoring them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MEDIAFETCH_API_URL", "POLL_INTERVAL", "COMPLETION_INTERVAL", "REQUEST_TIMEOUT",
		"LINK_TTL", "API_RATE_LIMIT", "API_RATE_BURST", "SERVER_ADDR", "CORS_ORIGINS",
		"SHUTDOWN_TIMEOUT", "LOG_LEVEL", "HISTORY_BACKEND", "HISTORY_LIMIT",
		"HISTORY_PRUNE_SCHEDULE", "HISTORY_RETENTION", "REDIS_URL", "DB_HOST", "DB_PORT",
		"DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE", "ARCHIVE_BACKEND", "ARCHIVE_TIMEOUT",
		"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_REGION",
		"MINIO_USE_SSL", "S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY",
		"S3_BUCKET", "S3_USE_PATH_STYLE",
	} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediafetch.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.PollInterval != time.Second {
		t.Errorf("expected 1s poll interval, got %v", cfg.API.PollInterval)
	}
	if cfg.API.CompletionInterval != 2*time.Second {
		t.Errorf("expected 2s completion interval, got %v", cfg.API.CompletionInterval)
	}
	if cfg.API.LinkTTL != 10*time.Minute {
		t.Errorf("expected 10m link ttl, got %v", cfg.API.LinkTTL)
	}
	if cfg.History.Backend != "memory" || cfg.Archive.Backend != "none" {
		t.Errorf("unexpected backends %s/%s", cfg.History.Backend, cfg.Archive.Backend)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
[api]
url = "http://jobs.internal:5000"
poll_interval = "500ms"
rate_limit = 2.5

[server]
addr = ":9090"
cors_origins = ["https://app.example.com"]

[history]
backend = "redis"
limit = 50
retention = "48h"

[archive]
backend = "s3"
timeout = "5m"

[archive.s3]
bucket = "media"
use_path_style = true
`)
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("HISTORY_LIMIT", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.URL != "http://jobs.internal:5000" {
		t.Errorf("unexpected url %s", cfg.API.URL)
	}
	if cfg.API.PollInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.API.PollInterval)
	}
	if cfg.API.CompletionInterval != 2*time.Second {
		t.Errorf("absent key should keep its default, got %v", cfg.API.CompletionInterval)
	}
	if cfg.API.RateLimit != 2.5 {
		t.Errorf("expected rate 2.5, got %v", cfg.API.RateLimit)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("environment should win, got %s", cfg.Server.Addr)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
	if cfg.History.Limit != 5 || cfg.History.Retention != 48*time.Hour {
		t.Errorf("unexpected history config %+v", cfg.History)
	}
	if cfg.Archive.Timeout != 5*time.Minute || cfg.Archive.S3.Bucket != "media" || !cfg.Archive.S3.UsePathStyle {
		t.Errorf("unexpected archive config %+v", cfg.Archive)
	}
	if cfg.Archive.S3.Region != "us-east-1" {
		t.Errorf("expected default region to survive, got %s", cfg.Archive.S3.Region)
	}
}

func TestLoad_EnvParsing(t *testing.T) {
	clearEnv(t)
	t.Setenv("CORS_ORIGINS", "https://a.com, https://b.com,")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("POLL_INTERVAL", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.com" {
		t.Errorf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Archive.Minio.UseSSL {
		t.Error("expected MINIO_USE_SSL to be applied")
	}
	if cfg.API.PollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.API.PollInterval)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad duration", map[string]string{"POLL_INTERVAL": "soon"}, "POLL_INTERVAL"},
		{"bad int", map[string]string{"HISTORY_LIMIT": "many"}, "HISTORY_LIMIT"},
		{"zero interval", map[string]string{"POLL_INTERVAL": "0s"}, "PollInterval"},
		{"unknown backend", map[string]string{"HISTORY_BACKEND": "sqlite"}, "Backend"},
		{"unknown level", map[string]string{"LOG_LEVEL": "loud"}, "Level"},
		{"limit too large", map[string]string{"HISTORY_LIMIT": "5000"}, "Limit"},
		{"not a url", map[string]string{"MEDIAFETCH_API_URL": "jobs"}, "URL"},
		{"s3 without bucket", map[string]string{"ARCHIVE_BACKEND": "s3"}, "S3_BUCKET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoad_BadTOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "[api\nurl = ")
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}
