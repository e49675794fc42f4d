// Command httpbin serves the courier test fixture until SIGINT or SIGTERM.
//
//	httpbin [-config courier.yaml] [-addr :8080]
package main

import (
	"context"
	"flag"
	"os"

	"github.com/kroma-labs/courier-go/internal/config"
	"github.com/kroma-labs/courier-go/internal/httpbin"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (default: search for courier.yaml)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	flag.Parse()

	var opts []config.Option
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		os.Stderr.WriteString("httpbin: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger := cfg.Log.Logger().With().Str("component", "httpbin").Logger()

	serverCfg := cfg.Server.HTTPBin()
	if *addr != "" {
		serverCfg.Addr = *addr
	}

	handler := httpbin.New(httpbin.WithLogger(logger))
	if err := httpbin.NewServer(serverCfg, handler, logger).ListenAndServe(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("httpbin stopped")
	}
}
