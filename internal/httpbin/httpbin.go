// Package httpbin is a small httpbin.org look-alike used as the reachable
// host for client tests and by the cmd/httpbin fixture server.
//
//	server := httptest.NewServer(httpbin.New())
//	defer server.Close()
//
// Endpoints:
//
//	GET  /get                 echo of args, headers and url
//	*    /anything            echo of the whole request
//	POST /post, PUT /put, PATCH /patch, DELETE /delete
//	GET  /headers, /user-agent
//	*    /status/{code}       empty body with that status (3xx redirect to /get)
//	GET  /delay/{ms}          /get after a delay, up to 10s
//	GET  /bytes/{n}           n pseudo-random bytes; ?seed= makes them reproducible
//	GET  /json, /xml          fixed documents
//	GET  /encoding/latin1     ISO-8859-1 text
//	GET  /panic               handler panic, answered 500 by Recovery
//	GET  /metrics             Prometheus metrics of the fixture
package httpbin

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// MaxDelay caps /delay/{ms}.
const MaxDelay = 10 * time.Second

// Latin1Text is what /encoding/latin1 serves, before encoding.
const Latin1Text = "café crème brûlée"

type config struct {
	logger     zerolog.Logger
	tp         trace.TracerProvider
	propagator propagation.TextMapPropagator
	registry   *prometheus.Registry
}

// Option configures the fixture handler.
type Option func(*config)

// WithLogger logs every request. Default: disabled.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracing records a server span per request, continuing the trace
// propagated by the caller.
func WithTracing(tp trace.TracerProvider, propagator propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.tp = tp
		c.propagator = propagator
	}
}

// WithRegistry collects fixture metrics on registry and serves them on
// /metrics. Default: a fresh registry per handler. A registry serves a
// single handler; the request counter cannot be registered twice.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = registry
	}
}

// New returns the fixture router.
func New(opts ...Option) http.Handler {
	cfg := &config{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}

	r := chi.NewRouter()
	if cfg.tp != nil {
		propagator := cfg.propagator
		if propagator == nil {
			propagator = propagation.TraceContext{}
		}
		r.Use(Tracing(cfg.tp, propagator))
	}
	r.Use(
		Recovery(cfg.logger),
		RequestID(),
		Logger(cfg.logger, "/metrics"),
		Metrics(cfg.registry),
	)

	r.Get("/get", handleGet)
	r.HandleFunc("/anything", handleAnything)
	r.HandleFunc("/anything/*", handleAnything)
	r.Post("/post", handleAnything)
	r.Put("/put", handleAnything)
	r.Patch("/patch", handleAnything)
	r.Delete("/delete", handleAnything)
	r.Get("/headers", handleHeaders)
	r.Get("/user-agent", handleUserAgent)
	r.HandleFunc("/status/{code}", handleStatus)
	r.Get("/delay/{ms}", handleDelay)
	r.Get("/bytes/{n}", handleBytes)
	r.Get("/json", handleJSON)
	r.Get("/xml", handleXML)
	r.Get("/encoding/latin1", handleLatin1)
	r.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("httpbin: requested panic")
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.registry, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}

// Echo is the JSON body of the echo endpoints.
type Echo struct {
	Method  string            `json:"method"`
	Args    map[string]any    `json:"args"`
	Headers map[string]string `json:"headers"`
	URL     string            `json:"url"`
	Data    string            `json:"data,omitempty"`
	Form    map[string]any    `json:"form,omitempty"`
	JSON    json.RawMessage   `json:"json,omitempty"`
}

func newEcho(r *http.Request) Echo {
	return Echo{
		Method:  r.Method,
		Args:    flatten(r.URL.Query()),
		Headers: flattenHeader(r.Header),
		URL:     requestURL(r),
	}
}

func handleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newEcho(r))
}

func handleAnything(w http.ResponseWriter, r *http.Request) {
	echo := newEcho(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	mediaType := strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0])
	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			writeError(w, http.StatusBadRequest, "parse form: "+err.Error())
			return
		}
		echo.Form = flatten(form)
	case "application/json":
		echo.Data = string(body)
		if json.Valid(body) {
			echo.JSON = body
		}
	default:
		echo.Data = string(body)
	}

	writeJSON(w, http.StatusOK, echo)
}

func handleHeaders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"headers": flattenHeader(r.Header)})
}

func handleUserAgent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"user-agent": r.UserAgent()})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 100 || code > 599 {
		writeError(w, http.StatusBadRequest, "invalid status code")
		return
	}
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		w.Header().Set("Location", "/get")
	}
	w.WriteHeader(code)
}

func handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(chi.URLParam(r, "ms"))
	if err != nil || ms < 0 {
		writeError(w, http.StatusBadRequest, "invalid delay")
		return
	}
	delay := min(time.Duration(ms)*time.Millisecond, MaxDelay)

	if err := sleep(r.Context(), delay); err != nil {
		// The client is gone; nobody reads this.
		return
	}
	handleGet(w, r)
}

func handleBytes(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 0 || n > 10<<20 {
		writeError(w, http.StatusBadRequest, "invalid size")
		return
	}

	seed := rand.Uint64()
	if s := r.URL.Query().Get("seed"); s != "" {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			seed = v
		}
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	data := make([]byte, n)
	for i := range data {
		data[i] = byte(rng.UintN(256))
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(n))
	_, _ = w.Write(data)
}

// Slideshow is the document served by /json and /xml.
type Slideshow struct {
	Author string  `json:"author" xml:"author,attr"`
	Title  string  `json:"title" xml:"title,attr"`
	Slides []Slide `json:"slides" xml:"slide"`
}

// Slide is one entry of a Slideshow.
type Slide struct {
	Title string   `json:"title" xml:"title"`
	Type  string   `json:"type" xml:"type,attr"`
	Items []string `json:"items,omitempty" xml:"item"`
}

var sampleSlideshow = Slideshow{
	Author: "Yours Truly",
	Title:  "Sample Slide Show",
	Slides: []Slide{
		{Title: "Wake up to WonderWidgets!", Type: "all"},
		{
			Title: "Overview",
			Type:  "all",
			Items: []string{"Why WonderWidgets are great", "Who buys WonderWidgets"},
		},
	},
}

func handleJSON(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]Slideshow{"slideshow": sampleSlideshow})
}

func handleXML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?>`+
		`<slideshow author="Yours Truly" title="Sample Slide Show">`+
		`<slide type="all"><title>Wake up to WonderWidgets!</title></slide>`+
		`<slide type="all"><title>Overview</title>`+
		`<item>Why WonderWidgets are great</item><item>Who buys WonderWidgets</item></slide>`+
		`</slideshow>`)
}

func handleLatin1(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
	_, _ = w.Write(latin1(Latin1Text))
}

// latin1 encodes s, which must only hold code points below 256.
func latin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ",")
	}
	return out
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
