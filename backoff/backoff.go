// Package backoff implements the exponential-backoff-with-jitter policy used
// by the store adapter to retry transient failures against the discovery
// store (spec §4.5).
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy parameters. Defaults match spec §4.5: base 50ms, cap 10s, up to
// 100ms of additive jitter, retried indefinitely until success or explicit
// cancellation.
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration
}

// Default is the policy spec §4.5 names.
var Default = Policy{
	Base:   50 * time.Millisecond,
	Cap:    10 * time.Second,
	Jitter: 100 * time.Millisecond,
}

func (p Policy) withDefaults() Policy {
	if p.Base <= 0 {
		p.Base = Default.Base
	}
	if p.Cap <= 0 {
		p.Cap = Default.Cap
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the delay to sleep before retry attempt n (0-indexed):
// min(cap, base * 2^n) plus up to Jitter of additive random jitter.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	// Guard against overflow for large attempt counts; once we've reached
	// the cap via doubling there's no point computing further.
	d := p.Base
	for i := 0; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	if d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter) + 1))
	}
	return d
}

// Retry calls fn until it returns a nil error, sleeping Delay(attempt)
// between attempts. It returns early with ctx.Err() if ctx is cancelled
// while waiting or between attempts. attempt resets are the caller's
// responsibility; each call to Retry starts counting from 0.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
