package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rovshanmuradov/token-engine/internal/market"
)

// lockTable hands out one weighted semaphore per token. A semaphore instead of
// a mutex lets acquisition honor a bounded wait, after which the request is
// rejected with ErrBusy instead of queueing behind a hot token indefinitely.
type lockTable struct {
	mu      sync.Mutex
	locks   map[string]*semaphore.Weighted
	maxWait time.Duration
}

func newLockTable(maxWait time.Duration) *lockTable {
	return &lockTable{
		locks:   make(map[string]*semaphore.Weighted),
		maxWait: maxWait,
	}
}

func (t *lockTable) lockFor(tokenID string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	sem, ok := t.locks[tokenID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		t.locks[tokenID] = sem
	}
	return sem
}

// acquire takes the token's exclusive lock, waiting at most maxWait. The
// returned release is idempotent, so callers can both defer it and call it
// early to shorten the critical section.
func (t *lockTable) acquire(ctx context.Context, tokenID string) (release func(), err error) {
	sem := t.lockFor(tokenID)

	waitCtx, cancel := context.WithTimeout(ctx, t.maxWait)
	defer cancel()

	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, market.ErrBusy
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}
