package httpclient

import (
	"context"
	"errors"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
)

// breakerTransport runs each round trip through a circuit breaker.
type breakerTransport struct {
	breaker    CircuitBreaker
	next       http.RoundTripper
	classifier BreakerClassifier
	cfg        *internalConfig
	name       string
}

// errSyntheticFailure tells the breaker that a round trip without a
// transport error still failed, e.g. a 503. The transport unwraps it and
// returns the response.
var errSyntheticFailure = errors.New("httpclient: response classified as breaker failure")

// RoundTrip implements http.RoundTripper.
func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var classified *http.Response
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose
		if t.classifier(resp, err) {
			if err != nil {
				return nil, err
			}
			classified = resp
			return nil, errSyntheticFailure
		}
		return resp, err
	})

	switch {
	case err == nil:
		t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "success")
		return resp, nil
	case errors.Is(err, errSyntheticFailure):
		t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "failure")
		return classified, nil
	case isCircuitOpen(err):
		t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "rejected")
		return nil, err
	default:
		t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "failure")
		return nil, err
	}
}

func newBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	if cfg.BreakerConfig == nil {
		return next
	}
	bc := *cfg.BreakerConfig
	if bc.Classifier == nil {
		bc.Classifier = DefaultBreakerClassifier
	}

	name := cfg.ServiceName
	if name == "" {
		name = "courier"
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: bc.readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Metrics.recordBreakerState(context.Background(), name, int64(to))
			cfg.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
		// A caller giving up says nothing about the health of the server.
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	}

	var cb CircuitBreaker
	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](bc.Store, st)
		if err != nil {
			cfg.Logger.Error().Err(err).Str("breaker", name).
				Msg("distributed circuit breaker unavailable, using a local one")
			cb = gobreaker.NewCircuitBreaker[*http.Response](st)
		} else {
			cb = dcb
		}
	} else {
		cb = gobreaker.NewCircuitBreaker[*http.Response](st)
	}

	return &breakerTransport{
		breaker:    cb,
		next:       next,
		classifier: bc.Classifier,
		cfg:        cfg,
		name:       name,
	}
}
