// Package throttle paces consecutive calls to an upstream service.
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a fixed minimum delay between consecutive calls.
// The first call is never delayed. A zero or negative interval disables pacing.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a Pacer that allows one call per interval.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next call is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Each calls fn for every index in [0, n) in order, pacing the calls.
// It stops at the first error returned by fn or by the pacer.
func (p *Pacer) Each(ctx context.Context, n int, fn func(i int) error) error {
	for i := 0; i < n; i++ {
		if err := p.Wait(ctx); err != nil {
			return err
		}
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}
