package orchestrator

import (
	"context"
	"sync"
)

// limiter bounds the number of concurrent Perform calls. A limit of 0 means
// unbounded. The limit can change while callers are waiting.
type limiter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	limit  int
	active int
}

func newLimiter(limit int) *limiter {
	l := &limiter{limit: max(limit, 0)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// acquire blocks until a slot is free or ctx is done.
func (l *limiter) acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit == 0 {
		l.active++
		return nil
	}

	// Wake waiters when ctx ends so they can observe the cancellation.
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	for l.limit > 0 && l.active >= l.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.active++
	return nil
}

func (l *limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
	l.cond.Signal()
}

// setLimit changes the limit. Negative values mean unbounded.
func (l *limiter) setLimit(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = max(n, 0)
	l.cond.Broadcast()
}

func (l *limiter) inUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
