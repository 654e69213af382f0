package narration

import (
	"context"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/grimfeed/narration-service/internal/cache"
	"github.com/grimfeed/narration-service/internal/scheduler"
)

// Janitor periodically sweeps expired cache entries, reaps terminal jobs
// past their retention window, and cancels jobs abandoned by their callers.
type Janitor struct {
	cacheIdx         *cache.Index
	sched            *scheduler.Scheduler
	interval         time.Duration
	jobRetention     time.Duration
	abandonedTimeout time.Duration
	log              *logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// NewJanitor creates a janitor. Start must be called to begin sweeping.
func NewJanitor(
	cacheIdx *cache.Index,
	sched *scheduler.Scheduler,
	interval time.Duration,
	jobRetention time.Duration,
	abandonedTimeout time.Duration,
	log *logger.Logger,
) *Janitor {
	return &Janitor{
		cacheIdx:         cacheIdx,
		sched:            sched,
		interval:         interval,
		jobRetention:     jobRetention,
		abandonedTimeout: abandonedTimeout,
		log:              log,
		stopOnce:         sync.Once{},
		stop:             make(chan struct{}),
		stopped:          make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (j *Janitor) Start() {
	go j.loop()
}

// Stop ends the sweep loop and waits for it to exit. Safe to call more
// than once.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stop)
	})
	<-j.stopped
}

func (j *Janitor) loop() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.RunOnce(context.Background())
		}
	}
}

// RunOnce performs a single sweep. Exposed so operators can trigger an
// immediate cleanup.
func (j *Janitor) RunOnce(ctx context.Context) {
	expired := j.cacheIdx.EvictExpired(ctx)
	if expired > 0 {
		count, total := j.cacheIdx.Stats()
		j.log.Info("Removed %d expired cache entries (%d remain, %d bytes)", expired, count, total)
	}

	abandoned := j.sched.CancelAbandoned(j.abandonedTimeout)
	if abandoned > 0 {
		j.log.Warn("Cancelled %d abandoned jobs", abandoned)
	}

	reaped := j.sched.ReapTerminal(j.jobRetention)
	if reaped > 0 {
		j.log.Info("Reaped %d terminal tickets", reaped)
	}
}
