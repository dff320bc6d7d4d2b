package rewind

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/rewind/project"
)

// reaper closes idle sessions and enforces project retention on a poll
// loop.
type reaper struct {
	r *Rewind

	mu            sync.Mutex
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	lastRetention time.Time
}

func newReaper(r *Rewind) *reaper {
	return &reaper{r: r}
}

func (rp *reaper) start(ctx context.Context) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.cancel != nil {
		return
	}
	ctx, rp.cancel = context.WithCancel(ctx)

	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()
		rp.pollLoop(ctx)
	}()
}

func (rp *reaper) stop(_ context.Context) {
	rp.mu.Lock()
	cancel := rp.cancel
	rp.cancel = nil
	rp.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	rp.wg.Wait()
}

func (rp *reaper) pollLoop(ctx context.Context) {
	interval := rp.r.config.ReapInterval
	if interval <= 0 {
		interval = DefaultConfig().ReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.cycle(ctx)
		}
	}
}

func (rp *reaper) cycle(ctx context.Context) {
	if _, err := rp.r.ReapIdle(ctx); err != nil {
		rp.r.logger.ErrorContext(ctx, "reap idle sessions failed", "error", err)
	}

	every := rp.r.config.RetentionInterval
	if every <= 0 || rp.r.now().Sub(rp.lastRetention) < every {
		return
	}
	rp.lastRetention = rp.r.now()
	if _, err := rp.r.EnforceRetention(ctx); err != nil {
		rp.r.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
	}
}

// ReapIdle closes open sessions that have not received a batch within the
// session timeout. It returns the number of sessions closed.
func (r *Rewind) ReapIdle(ctx context.Context) (int, error) {
	timeout := r.config.SessionTimeout
	if timeout <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-timeout)
	limit := r.config.ReapBatchSize
	if limit <= 0 {
		limit = DefaultConfig().ReapBatchSize
	}

	idle, err := r.store.ListIdleSessions(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, s := range idle {
		ok, err := r.closeIdle(ctx, s.ID, cutoff)
		if err != nil {
			r.logger.ErrorContext(ctx, "close idle session failed", "session_id", s.ID, "error", err)
			continue
		}
		if ok {
			closed++
		}
	}
	if closed > 0 {
		r.logger.InfoContext(ctx, "idle sessions closed", "count", closed)
	}
	return closed, nil
}

// EnforceRetention purges sessions older than their project's retention
// window. It returns the number of sessions removed.
func (r *Rewind) EnforceRetention(ctx context.Context) (int, error) {
	projects, err := r.projects.List(ctx, project.ListOpts{})
	if err != nil {
		return 0, err
	}

	total := 0
	for _, p := range projects {
		if p.RetentionDays <= 0 {
			continue
		}
		before := r.now().AddDate(0, 0, -p.RetentionDays)
		n, err := r.PurgeSessions(ctx, p.ID, before)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
