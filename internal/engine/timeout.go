package engine

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single stage.
const DefaultTimeout = 30 * time.Minute

// WithTimeout wraps a context with a per-stage timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
