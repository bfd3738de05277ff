package util

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle keeps a fixed pause between consecutive operations. Callers call
// Wait before an operation and Done after it; the next Wait then blocks for
// a full interval measured from Done, however long the operation took.
// A zero or negative interval disables throttling.
type Throttle struct {
	mu      sync.Mutex
	limit   rate.Limit
	limiter *rate.Limiter
}

// NewThrottle creates a Throttle that pauses interval between operations.
func NewThrottle(interval time.Duration) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{limit: limit, limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next operation is allowed or the context is
// cancelled. The first call never blocks.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	l := t.limiter
	t.mu.Unlock()
	return l.Wait(ctx)
}

// Done marks the end of an operation and restarts the pause from now.
func (t *Throttle) Done() {
	if t.limit == rate.Inf {
		return
	}
	// A fresh limiter with its single token spent admits nothing for one
	// full interval.
	l := rate.NewLimiter(t.limit, 1)
	l.Allow()

	t.mu.Lock()
	t.limiter = l
	t.mu.Unlock()
}
