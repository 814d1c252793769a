package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// retrier runs post-commit side work (persistence, fee accounting) with
// exponential backoff. The trade itself is already committed when work lands
// here, so failures are retried in the background instead of failing the
// caller.
type retrier struct {
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	maxTries     uint
	initialDelay time.Duration
	logger       *zap.Logger
}

func newRetrier(maxTries uint, initialDelay time.Duration, logger *zap.Logger) *retrier {
	ctx, cancel := context.WithCancel(context.Background())
	return &retrier{
		ctx:          ctx,
		cancel:       cancel,
		maxTries:     maxTries,
		initialDelay: initialDelay,
		logger:       logger.Named("retry"),
	}
}

// Go schedules op in the background. op should return backoff.Permanent for
// errors that retrying cannot fix.
func (r *retrier) Go(name string, op func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = r.initialDelay
		policy.MaxInterval = r.initialDelay * 10

		notify := func(err error, duration time.Duration) {
			r.logger.Info("Retrying after error",
				zap.String("op", name), zap.Error(err), zap.Duration("backoff", duration))
		}

		operation := func() (struct{}, error) {
			return struct{}{}, op(r.ctx)
		}

		if _, err := backoff.Retry(r.ctx, operation,
			backoff.WithBackOff(policy),
			backoff.WithMaxTries(r.maxTries),
			backoff.WithNotify(notify)); err != nil {
			r.logger.Error("Gave up after retries", zap.String("op", name), zap.Error(err))
		}
	}()
}

// Close stops pending retries and waits for in-flight goroutines.
func (r *retrier) Close() {
	r.cancel()
	r.wg.Wait()
}
