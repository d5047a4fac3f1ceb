package orchestrator

import (
	"sync"
	"time"
)

// Ticker is the part of time.Ticker the Poller and Completion Checker use.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker
func NewRealTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

// ManualTicker fires only when Tick is called.
type ManualTicker struct {
	Interval time.Duration

	ch       chan time.Time
	stopped  chan struct{}
	stopOnce sync.Once
}

func newManualTicker(d time.Duration) *ManualTicker {
	return &ManualTicker{
		Interval: d,
		ch:       make(chan time.Time),
		stopped:  make(chan struct{}),
	}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

// Stopped reports whether Stop has been called
func (m *ManualTicker) Stopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}

// Tick delivers one tick and reports whether a receiver took it. A stopped
// ticker never delivers.
func (m *ManualTicker) Tick() bool {
	if m.Stopped() {
		return false
	}
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
}

// ManualClock hands out ManualTickers and remembers them in creation order.
type ManualClock struct {
	mu      sync.Mutex
	tickers []*ManualTicker
}

// NewTicker satisfies TickerFactory
func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := newManualTicker(d)
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers returns every ticker created so far with the given interval
func (c *ManualClock) Tickers(d time.Duration) []*ManualTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*ManualTicker
	for _, t := range c.tickers {
		if t.Interval == d {
			out = append(out, t)
		}
	}
	return out
}

// Latest returns the most recent ticker with interval d, or nil
func (c *ManualClock) Latest(d time.Duration) *ManualTicker {
	ts := c.Tickers(d)
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

// Live counts tickers with interval d that have not been stopped
func (c *ManualClock) Live(d time.Duration) int {
	n := 0
	for _, t := range c.Tickers(d) {
		if !t.Stopped() {
			n++
		}
	}
	return n
}
