// Package server builds the token bucket that throttles each session's inbound
// messages and protects the registry from floods.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows burst messages at once and refills the whole bucket
// over interval.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst)
}
