package gateway

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Throttled caps the send rate of each business number. Carriers reject
// bursts from a single long code, so sends wait for a token instead.
type Throttled struct {
	Next Gateway

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit // messages per second per number
	b        int        // burst
}

// NewThrottled wraps next. perSecond <= 0 disables the limit.
func NewThrottled(next Gateway, perSecond float64, burst int) Gateway {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		Next:     next,
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		b:        burst,
	}
}

// limiter returns the limiter for the given sending number
func (t *Throttled) limiter(from string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[from]
	if !ok {
		l = rate.NewLimiter(t.r, t.b)
		t.limiters[from] = l
	}
	return l
}

func (t *Throttled) Send(ctx context.Context, from, to, body string) (*SendResult, error) {
	if err := t.limiter(from).Wait(ctx); err != nil {
		return nil, err
	}
	return t.Next.Send(ctx, from, to, body)
}
