// Command mediafetch submits media jobs to a remote download server and
// follows them to completion, either once from the terminal (get) or as a
// long-running relay for browser clients (serve).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/openmusicplayer/mediafetch/internal/config"
	"github.com/openmusicplayer/mediafetch/internal/jobapi"
	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/storage"
)

const version = "0.1.0"

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitSignals = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: mediafetch <command> [-config file] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  get <url>   submit url and wait for the download link")
	fmt.Fprintln(w, "  serve       run the relay HTTP server")
	fmt.Fprintln(w, "  version     print the version")
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "get":
		return runGet(rest, stdout, stderr)
	case "serve":
		return runServe(rest, stderr)
	case "version":
		fmt.Fprintln(stdout, "mediafetch", version)
		return exitOK
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return exitUsage
	}
}

// loadConfig parses the shared -config flag for a subcommand.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", os.Getenv("MEDIAFETCH_CONFIG"), "path to a TOML config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.Load(*path)
}

func newLogger(cfg *config.Config, out io.Writer) *logger.Logger {
	log := logger.New(&logger.Config{
		Output:    out,
		Level:     logger.ParseLevel(cfg.Logging.Level),
		Component: "mediafetch",
	})
	logger.SetDefault(log)
	return log
}

func newAPIClient(cfg *config.Config) *jobapi.Client {
	return jobapi.NewClient(jobapi.Config{
		BaseURL:   cfg.API.URL,
		Timeout:   cfg.API.RequestTimeout,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.RateBurst,
	})
}

func storageConfig(cfg *config.Config) storage.OpenConfig {
	a := cfg.Archive
	return storage.OpenConfig{
		Backend: a.Backend,
		Minio: storage.Config{
			Endpoint:  a.Minio.Endpoint,
			AccessKey: a.Minio.AccessKey,
			SecretKey: a.Minio.SecretKey,
			Bucket:    a.Minio.Bucket,
			Region:    a.Minio.Region,
			UseSSL:    a.Minio.UseSSL,
		},
		S3: storage.S3Config{
			Region:       a.S3.Region,
			Endpoint:     a.S3.Endpoint,
			AccessKey:    a.S3.AccessKey,
			SecretKey:    a.S3.SecretKey,
			Bucket:       a.S3.Bucket,
			UsePathStyle: a.S3.UsePathStyle,
		},
	}
}
