package orchestrator

import (
	"context"
	"sync"
	"time"
)

// loop fires fn on every tick. Each call runs on its own goroutine so a slow
// response never delays the next tick; callers guard their results with the
// generation counter.
type loop struct {
	ticker Ticker
	quit   chan struct{}
	once   sync.Once
}

func (o *Orchestrator) startLoop(ctx context.Context, every time.Duration, fn func(ctx context.Context)) *loop {
	l := &loop{
		ticker: o.newTicker(every),
		quit:   make(chan struct{}),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-l.quit:
				return
			case <-ctx.Done():
				return
			case <-l.ticker.C():
				// select picks randomly among ready cases; a tick racing a
				// stop must lose
				if l.stopped() || ctx.Err() != nil {
					return
				}
				o.wg.Add(1)
				go func() {
					defer o.wg.Done()
					fn(ctx)
				}()
			}
		}
	}()

	return l
}

func (l *loop) stop() {
	l.once.Do(func() {
		l.ticker.Stop()
		close(l.quit)
	})
}

func (l *loop) stopped() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}
