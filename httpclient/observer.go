package httpclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Observer is notified of every delivered result on the callback executor,
// just before the callback runs. err is nil for a success; res is nil for
// a transport failure.
//
// Observers must not block; they run on the delivery path.
type Observer interface {
	ObserveDelivery(req *Request, res *Response, err *Error, elapsed time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(req *Request, res *Response, err *Error, elapsed time.Duration)

// ObserveDelivery implements Observer.
func (f ObserverFunc) ObserveDelivery(req *Request, res *Response, err *Error, elapsed time.Duration) {
	f(req, res, err, elapsed)
}

// PrometheusObserver counts deliveries and their latency in Prometheus.
// It is safe for concurrent use.
//
//	reg := prometheus.NewRegistry()
//	client := httpclient.New(httpclient.WithObserver(httpclient.NewPrometheusObserver(reg)))
type PrometheusObserver struct {
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bodyBytes  *prometheus.HistogramVec
}

// NewPrometheusObserver registers the courier_* collectors on registerer.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusObserver(registerer prometheus.Registerer) *PrometheusObserver {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusObserver{
		deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courier_deliveries_total",
				Help: "Total number of results delivered to callbacks",
			},
			[]string{"method", "status_code", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courier_delivery_duration_seconds",
				Help:    "Time from exchange start to a deliverable result in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "outcome"},
		),
		bodyBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courier_response_body_bytes",
				Help:    "Size of captured response bodies in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"method"},
		),
	}
}

// ObserveDelivery implements Observer.
func (o *PrometheusObserver) ObserveDelivery(req *Request, res *Response, err *Error, elapsed time.Duration) {
	if o == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = err.Kind.String()
	}
	status := "none"
	if res != nil {
		status = strconv.Itoa(res.StatusCode())
		o.bodyBytes.WithLabelValues(req.Method()).Observe(float64(len(res.body)))
	}

	o.deliveries.WithLabelValues(req.Method(), status, outcome).Inc()
	o.duration.WithLabelValues(req.Method(), outcome).Observe(elapsed.Seconds())
}
