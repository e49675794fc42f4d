package httpclient

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	_ backoff.BackOff = (*LinearBackOff)(nil)
	_ backoff.BackOff = (*DecorrelatedJitterBackOff)(nil)
)

// LinearBackOff grows the interval by a fixed increment per attempt, with
// jitter. Use it with WithRetryBackOff.
//
// With Initial=1s, Increment=500ms and JitterFactor=0.3:
//
//	Attempt 1: 1.0s ± 0.3s
//	Attempt 2: 1.5s ± 0.45s
//	Attempt 3: 2.0s ± 0.6s
type LinearBackOff struct {
	InitialInterval time.Duration
	Increment       time.Duration
	MaxInterval     time.Duration
	JitterFactor    float64

	attempt int
}

// NewLinearBackOff returns 500ms steps capped at 30s with ±50% jitter.
func NewLinearBackOff() *LinearBackOff {
	return &LinearBackOff{
		InitialInterval: 500 * time.Millisecond,
		Increment:       500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		JitterFactor:    DefaultJitterFactor,
	}
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	interval := b.InitialInterval + time.Duration(b.attempt)*b.Increment
	if b.MaxInterval > 0 && interval > b.MaxInterval {
		interval = b.MaxInterval
	}
	b.attempt++
	return applyJitter(interval, b.JitterFactor)
}

// DecorrelatedJitterBackOff picks each interval at random between Base and
// three times the previous one, capped at Cap. It spreads retries of many
// clients better than plain jitter.
//
// See https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type DecorrelatedJitterBackOff struct {
	Base time.Duration
	Cap  time.Duration

	sleep time.Duration
}

// NewDecorrelatedJitterBackOff returns a 500ms base capped at 30s.
func NewDecorrelatedJitterBackOff() *DecorrelatedJitterBackOff {
	return &DecorrelatedJitterBackOff{
		Base: 500 * time.Millisecond,
		Cap:  30 * time.Second,
	}
}

// Reset implements backoff.BackOff.
func (b *DecorrelatedJitterBackOff) Reset() {
	b.sleep = 0
}

// NextBackOff implements backoff.BackOff.
func (b *DecorrelatedJitterBackOff) NextBackOff() time.Duration {
	if b.sleep == 0 {
		b.sleep = b.Base
	}
	upper := min(b.sleep*3, b.Cap)
	b.sleep = randomBetween(b.Base, upper)
	return b.sleep
}

// applyJitter spreads interval uniformly over ±jitterFactor.
func applyJitter(interval time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return interval
	}
	jitterFactor = min(jitterFactor, 1)

	delta := float64(interval) * jitterFactor
	//nolint:gosec // jitter does not need a cryptographic source
	return time.Duration(float64(interval) - delta + rand.Float64()*2*delta)
}

//nolint:gosec // jitter does not need a cryptographic source
func randomBetween(lo, hi time.Duration) time.Duration {
	if lo >= hi {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}
