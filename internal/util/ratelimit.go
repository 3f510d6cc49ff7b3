package util

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out outbound requests to a fixed rate.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows perSecond operations per second with a burst of one.
// A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64) *RateLimiter {
	if perSecond <= 0 {
		return &RateLimiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.lim.Wait(ctx)
}
