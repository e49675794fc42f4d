package httpclient

import (
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis, so that every
// process using the same breaker name shares one circuit.
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	cfg := httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb))
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is the part of gobreaker's breakers the transport uses.
type CircuitBreaker interface {
	Execute(req func() (*http.Response, error)) (*http.Response, error)
}

// BreakerClassifier reports whether a round trip counts as a failure for
// the circuit breaker.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the optional circuit breaker of the transport
// chain. While the circuit is open, requests fail at once with a
// KindTransport error wrapping gobreaker.ErrOpenState.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed while half-open.
	// Zero allows one.
	MaxRequests uint32

	// Interval is the cyclic period after which closed-state counts reset.
	// Zero never resets them.
	Interval time.Duration

	// Timeout is how long the circuit stays open before probing.
	// Zero means 60s.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests before the
	// failure ratio is considered.
	FailureThreshold uint32

	// FailureRatio trips the circuit when failures/requests reaches it.
	FailureRatio float64

	// ConsecutiveFailures trips the circuit after that many failures in a
	// row, regardless of FailureThreshold. Zero disables the rule.
	ConsecutiveFailures uint32

	// Store shares breaker state between processes. Nil keeps it in memory.
	Store gobreaker.SharedDataStore

	// Classifier decides what counts as a failure. Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is called on every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns an in-memory breaker that trips after 5
// consecutive failures, or a 50% failure ratio over at least 20 requests,
// and probes again after 10s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig backed by store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts network errors and 5xx responses as
// failures. 429 is left to retry and rate limiting.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= 500
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// isCircuitOpen reports errors returned by a breaker that refused a request.
func isCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// readyToTrip turns the config thresholds into gobreaker's trip function.
func (c BreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if c.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= c.ConsecutiveFailures {
		return true
	}
	if c.FailureThreshold > 0 && counts.Requests < c.FailureThreshold {
		return false
	}
	if c.FailureRatio > 0 && counts.Requests > 0 {
		return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
	}
	return false
}
