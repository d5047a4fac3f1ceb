package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides copies every set environment variable over cfg.
func applyEnvOverrides(cfg *Config) error {
	var errs []string
	str := func(dst *string, key string) {
		*dst = getEnvOrDefault(key, *dst)
	}
	dur := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(dst *float64, key string) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str(&cfg.API.URL, "MEDIAFETCH_API_URL")
	dur(&cfg.API.PollInterval, "POLL_INTERVAL")
	dur(&cfg.API.CompletionInterval, "COMPLETION_INTERVAL")
	dur(&cfg.API.RequestTimeout, "REQUEST_TIMEOUT")
	dur(&cfg.API.LinkTTL, "LINK_TTL")
	float(&cfg.API.RateLimit, "API_RATE_LIMIT")
	integer(&cfg.API.RateBurst, "API_RATE_BURST")

	str(&cfg.Server.Addr, "SERVER_ADDR")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	dur(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	str(&cfg.Logging.Level, "LOG_LEVEL")

	str(&cfg.History.Backend, "HISTORY_BACKEND")
	integer(&cfg.History.Limit, "HISTORY_LIMIT")
	str(&cfg.History.PruneSchedule, "HISTORY_PRUNE_SCHEDULE")
	dur(&cfg.History.Retention, "HISTORY_RETENTION")

	str(&cfg.Redis.URL, "REDIS_URL")

	str(&cfg.Database.Host, "DB_HOST")
	str(&cfg.Database.Port, "DB_PORT")
	str(&cfg.Database.User, "DB_USER")
	str(&cfg.Database.Password, "DB_PASSWORD")
	str(&cfg.Database.Name, "DB_NAME")
	str(&cfg.Database.SSLMode, "DB_SSLMODE")

	str(&cfg.Archive.Backend, "ARCHIVE_BACKEND")
	dur(&cfg.Archive.Timeout, "ARCHIVE_TIMEOUT")
	str(&cfg.Archive.Minio.Endpoint, "MINIO_ENDPOINT")
	str(&cfg.Archive.Minio.AccessKey, "MINIO_ACCESS_KEY")
	str(&cfg.Archive.Minio.SecretKey, "MINIO_SECRET_KEY")
	str(&cfg.Archive.Minio.Bucket, "MINIO_BUCKET")
	str(&cfg.Archive.Minio.Region, "MINIO_REGION")
	boolean(&cfg.Archive.Minio.UseSSL, "MINIO_USE_SSL")
	str(&cfg.Archive.S3.Region, "S3_REGION")
	str(&cfg.Archive.S3.Endpoint, "S3_ENDPOINT")
	str(&cfg.Archive.S3.AccessKey, "S3_ACCESS_KEY")
	str(&cfg.Archive.S3.SecretKey, "S3_SECRET_KEY")
	str(&cfg.Archive.S3.Bucket, "S3_BUCKET")
	boolean(&cfg.Archive.S3.UsePathStyle, "S3_USE_PATH_STYLE")

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
