package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openmusicplayer/mediafetch/internal/api"
	"github.com/openmusicplayer/mediafetch/internal/archive"
	"github.com/openmusicplayer/mediafetch/internal/config"
	"github.com/openmusicplayer/mediafetch/internal/health"
	"github.com/openmusicplayer/mediafetch/internal/history"
	"github.com/openmusicplayer/mediafetch/internal/logger"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
	"github.com/openmusicplayer/mediafetch/internal/orchestrator"
	"github.com/openmusicplayer/mediafetch/internal/sink"
	"github.com/openmusicplayer/mediafetch/internal/storage"
	"github.com/openmusicplayer/mediafetch/internal/websocket"
)

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg, err := loadConfig(fs, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	log := newLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "relay stopped", err)
		return exitFailed
	}
	return exitOK
}

func openHistory(ctx context.Context, cfg *config.Config) (history.Store, *health.CheckerConfig, error) {
	checks := &health.CheckerConfig{}
	switch cfg.History.Backend {
	case "redis":
		store, err := history.NewRedisStore(ctx, cfg.Redis.URL, cfg.History.Limit*5)
		if err != nil {
			return nil, nil, err
		}
		checks.Redis = store.Client()
		return store, checks, nil
	case "postgres":
		db := cfg.Database
		store, err := history.OpenPostgres(ctx, history.PostgresConfig{
			Host:     db.Host,
			Port:     db.Port,
			User:     db.User,
			Password: db.Password,
			Name:     db.Name,
			SSLMode:  db.SSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		checks.DB = store.DB()
		return store, checks, nil
	default:
		return history.NewMemoryStore(cfg.History.Limit * 5), checks, nil
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	m := metrics.New()
	client := newAPIClient(cfg)

	store, checks, err := openHistory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer store.Close()

	var pruner *history.PruneScheduler
	if p, ok := store.(history.Pruner); ok {
		pruner = history.NewPruneScheduler(p, cfg.History.Retention, log)
		if err := pruner.Start(cfg.History.PruneSchedule); err != nil {
			return fmt.Errorf("history pruning: %w", err)
		}
		defer pruner.Stop()
	}

	hub := websocket.NewHub(log, m)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	historySink := sink.NewHistory(store, log)
	sinks := []sink.Sink{
		sink.NewLog(log),
		sink.NewMetrics(m),
		historySink,
		websocket.NewBroadcaster(hub),
	}

	var archiver *archive.Archiver
	objects, err := storage.Open(ctx, storageConfig(cfg))
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
	case err != nil:
		return fmt.Errorf("archive storage: %w", err)
	default:
		archiver, err = archive.New(archive.Config{
			Storage: objects,
			BaseURL: client.BaseURL(),
			Logger:  log,
			Metrics: m,
			Timeout: cfg.Archive.Timeout,
		})
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		sinks = append(sinks, archiver)
		checks.StorageCheck = objects.Ping
	}

	orch := orchestrator.New(orchestrator.Config{
		API:                client,
		Sink:               sink.Combine(sinks...),
		Logger:             log,
		Metrics:            m,
		PollInterval:       cfg.API.PollInterval,
		CompletionInterval: cfg.API.CompletionInterval,
		LinkTTL:            cfg.API.LinkTTL,
	})

	checks.JobAPICheck = client.Ping
	checks.Version = version
	router := api.NewRouter(api.RouterConfig{
		Jobs:        orch,
		History:     store,
		Stream:      websocket.NewHandler(hub, cfg.Server.CORSOrigins),
		Health:      health.NewHandler(health.NewChecker(checks)),
		Metrics:     m,
		Logger:      log,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "relay listening", map[string]interface{}{
			"addr":            cfg.Server.Addr,
			"job_server":      cfg.API.URL,
			"history_backend": cfg.History.Backend,
			"archive_backend": cfg.Archive.Backend,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			orch.Close()
			return err
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WarnErr(shutdownCtx, "http shutdown incomplete", err)
	}

	orch.Close()
	stopHub()
	historySink.Wait()
	if archiver != nil {
		archiver.Wait()
	}
	return nil
}
