// Package retry implements the engine's transient-failure policy: an
// exponential backoff with jitter, ported from the teacher's pipeline
// scheduleRetry/backoffDelay/randomizedDelay trio, and a circuit breaker
// around source/sink calls using sony/gobreaker.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Policy is the backoff shape for one adapter call site. Base/Max/
// MaxAttempts map directly onto spec.md's export.max_retries,
// export.backoff_base, export.backoff_max.
type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int

	mu   sync.Mutex
	rand *rand.Rand
}

// NewPolicy builds a Policy seeded from the current time. Two Policy
// values never share a *rand.Rand, matching the teacher's per-Pipeline
// randMu/rand pairing rather than a shared package-level source.
func NewPolicy(base, max time.Duration, maxAttempts int) *Policy {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	return &Policy{Base: base, Max: max, MaxAttempts: maxAttempts, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// ShouldRetry reports whether another attempt is permitted after the
// given 1-based attempt number just failed. MaxAttempts <= 0 means
// retries are disabled entirely.
func (p *Policy) ShouldRetry(attempt int) bool {
	if p.MaxAttempts <= 0 {
		return false
	}
	return attempt < p.MaxAttempts
}

// Delay returns the jittered exponential backoff for the given 1-based
// attempt number: base * 2^(attempt-1), capped at Max, then scaled by a
// uniform [0,1) jitter factor — full-jitter, matching
// randomizedDelay(delay) in the teacher rather than delay +/- jitter.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base * time.Duration(uint64(1)<<uint(attempt-1))
	if delay <= 0 || delay > p.Max {
		delay = p.Max
	}
	return p.jitter(delay)
}

func (p *Policy) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rand.Float64() * float64(max))
}

// Do runs fn, retrying per the policy while ShouldRetry and the
// retryable predicate both hold, sleeping Delay(attempt) between
// attempts. ctx cancellation aborts the wait and returns ctx.Err()
// immediately, matching the teacher's scheduleRetry checking p.ctx.Done()
// before and during its timer wait. Returns the last error once attempts
// are exhausted or the error is classified non-retryable.
func (p *Policy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || !p.ShouldRetry(attempt) {
			return err
		}
		delay := p.Delay(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
