package cache

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often a Janitor sweeps when no interval is given.
const DefaultSweepInterval = 60 * time.Second

// Sweeper is anything with expirable entries.
type Sweeper interface {
	Sweep() int
}

// Janitor calls Sweep on a fixed interval until stopped.
type Janitor struct {
	name     string
	target   Sweeper
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	start    sync.Once
	stopOnce sync.Once
}

// NewJanitor creates a Janitor for target. name is used in log lines.
func NewJanitor(name string, target Sweeper, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{
		name:     name,
		target:   target,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling Start more than once is a no-op.
func (j *Janitor) Start() {
	j.start.Do(func() { go j.loop() })
}

// Stop ends the sweep loop and waits for it to exit. A Janitor that was
// never started cannot be started after Stop.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	j.start.Do(func() { close(j.done) })
	<-j.done
}

func (j *Janitor) loop() {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			if n := j.target.Sweep(); n > 0 {
				slog.Debug("sweep removed expired entries", "janitor", j.name, "removed", n)
			}
		}
	}
}
