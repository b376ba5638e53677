package database

import (
	"context"
	"time"
)

// WriteContext detaches a mutation from the caller's cancellation so an
// abandoned request cannot cut a commit short, and bounds it by timeout so a
// hung store fails closed instead of blocking forever.
func WriteContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// ReadContext bounds a read by timeout; reads stay cancellable by the caller.
func ReadContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
