package backend

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited wraps a backend with a token-bucket rate limiter shared by every
// agent using that backend.
type Limited struct {
	inner   Backend
	limiter *rate.Limiter
}

// NewLimited limits b to rps requests per second with the given burst.
// A non-positive rps returns b unchanged.
func NewLimited(b Backend, rps float64, burst int) Backend {
	if rps <= 0 {
		return b
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{inner: b, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Name implements Backend.
func (l *Limited) Name() string {
	return l.inner.Name()
}

// Execute waits for a token, then delegates.
func (l *Limited) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, NewTransient(err)
	}
	return l.inner.Execute(ctx, req)
}
