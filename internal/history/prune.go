package history

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openmusicplayer/mediafetch/internal/logger"
)

// DefaultPruneSchedule runs hourly on the hour
const DefaultPruneSchedule = "0 * * * *"

// PruneScheduler periodically deletes entries older than the retention.
type PruneScheduler struct {
	store     Pruner
	retention time.Duration
	cron      *cron.Cron
	log       *logger.Logger
	now       func() time.Time
}

// NewPruneScheduler creates a scheduler for store. It does nothing until Start.
func NewPruneScheduler(store Pruner, retention time.Duration, log *logger.Logger) *PruneScheduler {
	if log == nil {
		log = logger.Default()
	}
	return &PruneScheduler{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		log:       log.WithComponent("history-prune"),
		now:       time.Now,
	}
}

// Start schedules pruning with a standard five-field cron expression
func (p *PruneScheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	if _, err := p.cron.AddFunc(schedule, p.RunOnce); err != nil {
		return err
	}

	p.cron.Start()
	p.log.Info(context.Background(), "history pruning scheduled", map[string]interface{}{
		"schedule":  schedule,
		"retention": p.retention.String(),
	})
	return nil
}

// Stop waits for a running prune to finish
func (p *PruneScheduler) Stop() {
	<-p.cron.Stop().Done()
}

// RunOnce prunes immediately
func (p *PruneScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := p.now().Add(-p.retention)
	removed, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.log.Error(ctx, "history prune failed", err)
		return
	}
	if removed > 0 {
		p.log.Info(ctx, "history pruned", map[string]interface{}{
			"removed": removed,
			"cutoff":  cutoff,
		})
	}
}
