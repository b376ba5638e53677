// Package retry re-runs idempotent store operations that failed because the
// store was unreachable. Every other error is returned on the first attempt.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"github.com/classlive/backend/internal/models"
)

// Policy retries work up to Attempts extra times with a constant Backoff.
type Policy struct {
	r *retrier.Retrier
}

// New creates a policy. attempts <= 0 disables retrying.
func New(attempts int, backoff time.Duration) *Policy {
	if attempts < 0 {
		attempts = 0
	}
	return &Policy{r: retrier.New(retrier.ConstantBackoff(attempts, backoff), unavailableOnly{})}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or attempts run out.
// A nil Policy runs fn once.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	return p.r.RunCtx(ctx, fn)
}

// DoChange is Do for writes that report whether they changed anything. An
// attempt that failed with models.ErrStoreUnavailable may still have
// committed, so once one has, a later success is reported as changed even if
// it found the write already applied. Callers publish on changed and the
// duplicate event is harmless; a lost one is not.
func (p *Policy) DoChange(ctx context.Context, fn func(ctx context.Context) (bool, error)) (bool, error) {
	var changed, unknown bool
	err := p.Do(ctx, func(ctx context.Context) error {
		c, err := fn(ctx)
		if errors.Is(err, models.ErrStoreUnavailable) {
			unknown = true
		}
		changed = c
		return err
	})
	if err != nil {
		return false, err
	}
	return changed || unknown, nil
}

type unavailableOnly struct{}

func (unavailableOnly) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case errors.Is(err, models.ErrStoreUnavailable):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}
