package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a fixed-window token bucket: capacity and refill both equal the
// per-minute limit, and the bucket resets to full capacity once 60 seconds
// have passed since the last refill. This matches provider quotas expressed
// as "N sends per minute" rather than a smooth leak.
type Bucket struct {
	mu         sync.Mutex
	limit      int
	tokens     int
	lastRefill time.Time

	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewBucket builds a bucket allowing perMinute acquisitions per 60s window.
// A perMinute of zero or less disables limiting.
func NewBucket(perMinute int) *Bucket {
	return &Bucket{
		limit:      perMinute,
		tokens:     perMinute,
		lastRefill: time.Now(),
		window:     time.Minute,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until n tokens are available, then deducts them. Token
// accounting happens under the mutex; waiting happens outside it so blocked
// callers do not starve the refill path.
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	if b.limit <= 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}

	for {
		b.mu.Lock()
		now := b.now()
		if now.Sub(b.lastRefill) >= b.window {
			b.tokens = b.limit
			b.lastRefill = now
		}
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return nil
		}
		wait := b.window - now.Sub(b.lastRefill)
		b.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
