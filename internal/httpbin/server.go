package httpbin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ServerConfig holds the listener settings of the standalone fixture.
type ServerConfig struct {
	// Addr is the TCP address to listen on. Default: ":8080"
	Addr string

	// ReadHeaderTimeout bounds reading request headers. Default: 10s
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is how long in-flight requests get to finish.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the fixture listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Server serves a handler until its context is cancelled or the process
// receives SIGINT or SIGTERM.
type Server struct {
	httpServer *http.Server
	config     ServerConfig
	logger     zerolog.Logger
}

// NewServer creates a Server for handler.
func NewServer(cfg ServerConfig, handler http.Handler, logger zerolog.Logger) *Server {
	defaults := DefaultServerConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		config: cfg,
		logger: logger,
	}
}

// ListenAndServe listens on the configured address and blocks until
// shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and blocks until shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("httpbin listening")

		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			s.logger.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	case sig := <-signals:
		s.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
		s.logger.Info().Err(ctx.Err()).Msg("context cancelled, shutting down")
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed, forcing close")
		if closeErr := s.httpServer.Close(); closeErr != nil {
			s.logger.Error().Err(closeErr).Msg("force close failed")
		}
		return err
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
