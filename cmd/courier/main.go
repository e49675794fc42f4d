// Command courier sends one request with the configured client defaults
// and prints the delivered result.
//
//	courier [-config courier.yaml] [-X POST] [-H 'Key: Value'] [-d body] [-as text|json|headers] <path-or-url>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/courier-go/httpclient"
	"github.com/kroma-labs/courier-go/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// headerFlags collects repeated -H values.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q is not 'Key: Value'", v)
	}
	*h = append(*h, v)
	return nil
}

type cliFlags struct {
	configFile string
	envFile    string
	method     string
	data       string
	as         string
	trace      bool
	headers    headerFlags
	target     string
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("courier", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configFile, "config", "", "YAML config file (default: search for courier.yaml)")
	fs.StringVar(&f.envFile, "env", "", ".env file (default: ./.env when present)")
	fs.StringVar(&f.method, "X", "GET", "request method")
	fs.StringVar(&f.data, "d", "", "request body")
	fs.StringVar(&f.as, "as", "text", "result decoder: text, json or headers")
	fs.BoolVar(&f.trace, "trace", false, "print request timing to stderr")
	fs.Var(&f.headers, "H", "request header 'Key: Value', repeatable")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	if fs.NArg() != 1 {
		return cliFlags{}, errors.New("expected exactly one path or URL")
	}
	if !slices.Contains([]string{"text", "json", "headers"}, f.as) {
		return cliFlags{}, fmt.Errorf("unknown decoder %q", f.as)
	}
	f.target = fs.Arg(0)
	f.method = strings.ToUpper(f.method)
	return f, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "courier:", err)
		return 2
	}

	var loadOpts []config.Option
	if f.configFile != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(f.configFile))
	}
	if f.envFile != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(f.envFile))
	}
	cfg, err := config.Load(loadOpts...)
	if err != nil {
		fmt.Fprintln(stderr, "courier:", err)
		return 2
	}

	logger := cfg.Log.Logger()
	opts, err := cfg.Client.Options(logger)
	if err != nil {
		fmt.Fprintln(stderr, "courier:", err)
		return 2
	}
	// The process only waits for one result, so it is delivered in place.
	opts = append(opts, httpclient.WithCallbackExecutor(httpclient.DirectExecutor()))

	client := httpclient.New(opts...)
	return send(ctx, client, f, stdout, stderr, logger)
}

func send(ctx context.Context, client *httpclient.Client, f cliFlags, stdout, stderr io.Writer, logger zerolog.Logger) int {
	rb := client.Request(f.method, f.target)
	for _, h := range f.headers {
		key, value, _ := strings.Cut(h, ":")
		rb.Header(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if f.data != "" {
		rb.Body(f.data)
	}
	if f.trace {
		rb.EnableTrace()
	}

	done := make(chan int, 1)
	report := func(req *httpclient.Request, res *httpclient.Response, ferr *httpclient.Error, print func()) {
		if f.trace && res != nil && res.TraceInfo() != nil {
			fmt.Fprintln(stderr, res.TraceInfo())
		}
		if ferr != nil {
			logger.Debug().Str("request_id", req.ID()).Stringer("kind", ferr.Kind).Msg("request failed")
			fmt.Fprintln(stderr, "courier:", ferr)
			if res != nil {
				_, _ = stdout.Write(res.Body())
			}
			done <- 1
			return
		}
		print()
		done <- 0
	}

	switch f.as {
	case "json":
		rb.ResponseJSON(ctx, func(req *httpclient.Request, res *httpclient.Response, result httpclient.Result[*httpclient.Document]) {
			report(req, res, result.Err(), func() {
				doc, _ := result.Value()
				fmt.Fprintln(stdout, doc)
			})
		})
	case "headers":
		rb.ResponseBytes(ctx, func(req *httpclient.Request, res *httpclient.Response, result httpclient.Result[[]byte]) {
			report(req, res, result.Err(), func() {
				printHeaders(stdout, res)
			})
		})
	default:
		rb.ResponseString(ctx, func(req *httpclient.Request, res *httpclient.Response, result httpclient.Result[string]) {
			report(req, res, result.Err(), func() {
				body, _ := result.Value()
				fmt.Fprint(stdout, body)
			})
		})
	}

	return <-done
}

func printHeaders(w io.Writer, res *httpclient.Response) {
	fmt.Fprintf(w, "%s %s\n", res.Proto(), res.Status())
	header := res.Header()
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range header[k] {
			fmt.Fprintf(w, "%s: %s\n", k, v)
		}
	}
}
