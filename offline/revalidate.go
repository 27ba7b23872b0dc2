package offline

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// RevalidateConfig sizes the background refetch pool of the cache-first strategy.
type RevalidateConfig struct {
	Workers int
	Buffer  int
	// Timeout bounds one refetch.
	Timeout time.Duration
	// HandoffTimeout is how long Fetch waits for room in a full queue before
	// skipping the refetch.
	HandoffTimeout time.Duration
}

func (c RevalidateConfig) withDefaults() RevalidateConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

type revalidateJob struct {
	req *http.Request
	key string
}

type revalidator struct {
	cfg  RevalidateConfig
	run  func(ctx context.Context, job revalidateJob)
	jobs chan revalidateJob

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
	pending sync.WaitGroup
}

func newRevalidator(cfg RevalidateConfig, run func(ctx context.Context, job revalidateJob)) *revalidator {
	cfg = cfg.withDefaults()
	r := &revalidator{cfg: cfg, run: run, jobs: make(chan revalidateJob, cfg.Buffer)}
	for i := 0; i < cfg.Workers; i++ {
		r.workers.Add(1)
		go r.worker()
	}
	return r
}

func (r *revalidator) worker() {
	defer r.workers.Done()
	for j := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		r.run(ctx, j)
		cancel()
		r.pending.Done()
	}
}

// tryEnqueue hands job to the pool without blocking past the handoff timeout.
func (r *revalidator) tryEnqueue(job revalidateJob) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	r.pending.Add(1)
	select {
	case r.jobs <- job:
		return true
	default:
	}
	if r.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(r.cfg.HandoffTimeout)
		defer timer.Stop()
		select {
		case r.jobs <- job:
			return true
		case <-timer.C:
		}
	}
	r.pending.Done()
	return false
}

// wait blocks until every queued refetch finished or ctx is done.
func (r *revalidator) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs and waits for the workers to drain the queue.
func (r *revalidator) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.workers.Wait()
}
