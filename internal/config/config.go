// Package config loads mediafetch settings from defaults, an optional TOML
// file and the environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	API      APIConfig      `toml:"api"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	History  HistoryConfig  `toml:"history"`
	Redis    RedisConfig    `toml:"redis"`
	Database DatabaseConfig `toml:"database"`
	Archive  ArchiveConfig  `toml:"archive"`
}

// APIConfig points at the remote job server.
type APIConfig struct {
	URL                string        `toml:"url" validate:"required,url"`
	PollInterval       time.Duration `toml:"-" validate:"gt=0"`
	CompletionInterval time.Duration `toml:"-" validate:"gt=0"`
	RequestTimeout     time.Duration `toml:"-" validate:"gt=0"`
	LinkTTL            time.Duration `toml:"-" validate:"gt=0"`
	RateLimit          float64       `toml:"rate_limit" validate:"gte=0"`
	RateBurst          int           `toml:"rate_burst" validate:"gte=1"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr" validate:"required"`
	CORSOrigins     []string      `toml:"cors_origins"`
	ShutdownTimeout time.Duration `toml:"-" validate:"gt=0"`
}

type LoggingConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn warning error"`
}

// HistoryConfig selects where terminal outcomes are recorded.
type HistoryConfig struct {
	Backend       string        `toml:"backend" validate:"oneof=memory redis postgres"`
	Limit         int           `toml:"limit" validate:"min=1,max=1000"`
	PruneSchedule string        `toml:"prune_schedule"`
	Retention     time.Duration `toml:"-" validate:"gt=0"`
}

type RedisConfig struct {
	URL string `toml:"url"`
}

type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port" validate:"omitempty,numeric"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"sslmode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
}

// ArchiveConfig selects the optional object store for finished artifacts.
type ArchiveConfig struct {
	Backend string        `toml:"backend" validate:"oneof=none minio s3"`
	Timeout time.Duration `toml:"-" validate:"gt=0"`
	Minio   MinioConfig   `toml:"minio"`
	S3      S3Config      `toml:"s3"`
}

type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

type S3Config struct {
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	Bucket       string `toml:"bucket"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		API: APIConfig{
			URL:                "http://localhost:5000",
			PollInterval:       time.Second,
			CompletionInterval: 2 * time.Second,
			RequestTimeout:     10 * time.Second,
			LinkTTL:            10 * time.Minute,
			RateLimit:          4,
			RateBurst:          4,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		History: HistoryConfig{
			Backend:       "memory",
			Limit:         20,
			PruneSchedule: "0 * * * *",
			Retention:     7 * 24 * time.Hour,
		},
		Redis: RedisConfig{URL: "redis://localhost:6379"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "mediafetch",
			Name:    "mediafetch",
			SSLMode: "disable",
		},
		Archive: ArchiveConfig{
			Backend: "none",
			Timeout: 10 * time.Minute,
			Minio: MinioConfig{
				Endpoint:  "localhost:9000",
				AccessKey: "minioadmin",
				SecretKey: "minioadmin",
				Bucket:    "mediafetch-archive",
			},
			S3: S3Config{Region: "us-east-1"},
		},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := cfg.apply(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the backend-specific requirements
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if !strings.HasPrefix(c.API.URL, "http") {
		return fmt.Errorf("invalid config: api url must be http or https")
	}
	if c.History.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("invalid config: redis history requires REDIS_URL")
	}
	if c.History.Backend == "postgres" && (c.Database.Host == "" || c.Database.Name == "") {
		return fmt.Errorf("invalid config: postgres history requires DB_HOST and DB_NAME")
	}
	switch c.Archive.Backend {
	case "minio":
		if c.Archive.Minio.Endpoint == "" || c.Archive.Minio.Bucket == "" {
			return fmt.Errorf("invalid config: minio archive requires MINIO_ENDPOINT and MINIO_BUCKET")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" || c.Archive.S3.Region == "" {
			return fmt.Errorf("invalid config: s3 archive requires S3_BUCKET and S3_REGION")
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
