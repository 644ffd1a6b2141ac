// Package backoff computes capped exponential delays for retry loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy shapes the delay curve between attempts.
type Policy struct {
	// Initial is the delay after the first failure.
	Initial time.Duration
	// Max caps the delay; zero means uncapped.
	Max time.Duration
	// Factor multiplies the delay on each further failure.
	Factor float64
	// Jitter is the fraction of the base delay randomized on top, 0 to 1.
	Jitter float64
}

// DefaultPolicy suits calls to remote services: one second doubling up to
// thirty seconds with ten percent jitter.
func DefaultPolicy() Policy {
	return Policy{Initial: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: 0.1}
}

// Delay returns how long to wait before the next try. Attempts are
// 1-indexed: Delay(p, 1) follows the first failure.
func Delay(p Policy, attempt int) time.Duration {
	return delayWithRand(p, attempt, rand.Float64())
}

func delayWithRand(p Policy, attempt int, random float64) time.Duration {
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 && total > float64(p.Max) {
		total = float64(p.Max)
	}
	return time.Duration(total)
}

// Sleep waits for d, returning early with ctx.Err() when the context ends
// first. A non-positive d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
