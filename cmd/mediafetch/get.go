package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmusicplayer/mediafetch/internal/archive"
	"github.com/openmusicplayer/mediafetch/internal/orchestrator"
	"github.com/openmusicplayer/mediafetch/internal/sink"
	"github.com/openmusicplayer/mediafetch/internal/storage"
)

// runGet follows one job in the foreground. Progress goes to stdout, logs
// to stderr.
func runGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	noArchive := fs.Bool("no-archive", false, "skip archiving even when a backend is configured")

	cfg, err := loadConfig(fs, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: mediafetch get [-config file] <url>")
		return exitUsage
	}
	url := fs.Arg(0)

	log := newLogger(cfg, stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newAPIClient(cfg)
	terminal := sink.NewTerminal()
	sinks := []sink.Sink{sink.NewConsole(stdout), sink.NewLog(log), terminal}

	var archiver *archive.Archiver
	if !*noArchive {
		store, err := storage.Open(ctx, storageConfig(cfg))
		switch {
		case errors.Is(err, storage.ErrNotConfigured):
		case err != nil:
			log.Warn(ctx, "archive disabled", map[string]interface{}{"error": err.Error()})
		default:
			archiver, err = archive.New(archive.Config{
				Storage: store,
				BaseURL: client.BaseURL(),
				Logger:  log,
				Timeout: cfg.Archive.Timeout,
			})
			if err != nil {
				log.Warn(ctx, "archive disabled", map[string]interface{}{"error": err.Error()})
			} else {
				sinks = append(sinks, archiver)
			}
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		API:                client,
		Sink:               sink.Combine(sinks...),
		Logger:             log,
		PollInterval:       cfg.API.PollInterval,
		CompletionInterval: cfg.API.CompletionInterval,
		LinkTTL:            cfg.API.LinkTTL,
	})
	defer orch.Close()

	// Submit reports its own failure to the sinks, which ends the wait below
	_ = orch.Submit(ctx, url)

	select {
	case <-terminal.Done():
	case <-ctx.Done():
		orch.Reset()
		fmt.Fprintln(stderr, "cancelled")
		return exitSignals
	}

	if archiver != nil {
		fmt.Fprintln(stdout, "archiving...")
		archiver.Wait()
	}

	if _, failure := terminal.Outcome(); failure != nil {
		return exitFailed
	}
	return exitOK
}
