package workqueue

import "context"

// Limiter bounds how many items run concurrently across every queue that
// shares it. A nil Limiter imposes no bound.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter returns a limiter admitting n concurrent items, or nil when n
// is not positive.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		return nil
	}
	return &Limiter{slots: make(chan struct{}, n)}
}

func (l *Limiter) acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) release() {
	if l == nil {
		return
	}
	<-l.slots
}
