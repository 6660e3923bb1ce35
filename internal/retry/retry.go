package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// transientMarkers are matched against the error text when no typed check
// applies. Provider SDK errors and raw SMTP responses mostly surface as
// strings, so this list mirrors the usual throttle/5xx vocabulary.
var transientMarkers = []string{
	"timeout",
	"connection",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// IsTransient reports whether err looks like a failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Policy retries a fallible operation with exponential backoff and jitter.
// Non-transient errors abort immediately; transient ones are retried until
// MaxAttempts total attempts have been made.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	Log *zap.Logger

	// Classify overrides IsTransient when set.
	Classify func(error) bool
}

// Do runs op, retrying per the policy. The error from the final attempt is
// returned unwrapped.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = IsTransient
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !classify(err) {
			if p.Log != nil {
				p.Log.Warn("non-transient error, not retrying", zap.Error(err))
			}
			return backoff.Permanent(err)
		}
		if p.Log != nil && attempt < attempts {
			p.Log.Info("transient error, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Error(err),
			)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}
