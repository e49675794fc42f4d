// Package config loads the settings of the courier and httpbin binaries
// from a YAML file, an optional .env file and COURIER_* environment
// variables, in increasing order of precedence.
//
//	client:
//	  base_url: https://httpbin.org
//	  preset: low_latency
//	  headers:
//	    x-api-key: secret
//	  params: [lang=en]
//	  retry:
//	    max_retries: 3
//	log:
//	  level: debug
//
// COURIER_CLIENT_BASE_URL overrides client.base_url, and so on for every
// scalar key. Header names read from YAML are lower-cased by viper; they
// are canonicalized again when a request is built.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/kroma-labs/courier-go/httpclient"
	"github.com/kroma-labs/courier-go/internal/httpbin"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "COURIER"

// Transport presets accepted by ClientConfig.Preset.
const (
	PresetDefault        = "default"
	PresetHighThroughput = "high_throughput"
	PresetLowLatency     = "low_latency"
	PresetConservative   = "conservative"
)

// Config is the root of the configuration tree.
type Config struct {
	Client ClientConfig `mapstructure:"client"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// ClientConfig configures an httpclient.Client.
type ClientConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	Headers     map[string]string `mapstructure:"headers"`
	Params      []string          `mapstructure:"params"`
	ServiceName string            `mapstructure:"service_name"`
	Preset      string            `mapstructure:"preset"`

	// Timeout and MaxBodyBytes override the preset when positive.
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`

	RequestIDHeader string `mapstructure:"request_id_header"`
	Debug           bool   `mapstructure:"debug"`

	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
}

// RetryConfig enables transport retries when MaxRetries is positive.
type RetryConfig struct {
	MaxRetries      uint          `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// RateLimitConfig enables client-side rate limiting when
// RequestsPerSecond is positive.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	Wait              bool    `mapstructure:"wait"`
}

// BreakerConfig enables the circuit breaker. With RedisAddr set, the
// circuit is shared through Redis by every client using the same
// service name.
type BreakerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	RedisAddr string `mapstructure:"redis_addr"`
}

// ServerConfig configures the standalone httpbin fixture.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type loaderConfig struct {
	configFile string
	envFile    string
}

// Option customizes Load.
type Option func(*loaderConfig)

// WithConfigFile reads path instead of searching for courier.yaml.
func WithConfigFile(path string) Option {
	return func(lc *loaderConfig) { lc.configFile = path }
}

// WithEnvFile loads path instead of ./.env.
func WithEnvFile(path string) Option {
	return func(lc *loaderConfig) { lc.envFile = path }
}

// Load reads and validates the configuration.
//
// Without WithConfigFile, courier.yaml is searched for in the working
// directory and ./config; a missing file is not an error. Variables from
// the .env file never replace ones already set in the environment.
func Load(opts ...Option) (Config, error) {
	var lc loaderConfig
	for _, opt := range opts {
		opt(&lc)
	}

	if err := loadEnvFile(lc.envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if lc.configFile != "" {
		v.SetConfigFile(lc.configFile)
	} else {
		v.SetConfigName("courier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if lc.configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every key, which AutomaticEnv needs to see it
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	server := httpbin.DefaultServerConfig()

	v.SetDefault("client.base_url", "")
	v.SetDefault("client.headers", map[string]string{})
	v.SetDefault("client.params", []string{})
	v.SetDefault("client.service_name", "courier")
	v.SetDefault("client.preset", PresetDefault)
	v.SetDefault("client.timeout", time.Duration(0))
	v.SetDefault("client.max_body_bytes", 0)
	v.SetDefault("client.request_id_header", "")
	v.SetDefault("client.debug", false)
	v.SetDefault("client.retry.max_retries", 0)
	v.SetDefault("client.retry.initial_interval", httpclient.DefaultInitialInterval)
	v.SetDefault("client.retry.max_interval", httpclient.DefaultMaxInterval)
	v.SetDefault("client.rate_limit.requests_per_second", 0)
	v.SetDefault("client.rate_limit.burst", 1)
	v.SetDefault("client.rate_limit.wait", true)
	v.SetDefault("client.breaker.enabled", false)
	v.SetDefault("client.breaker.redis_addr", "")

	v.SetDefault("server.addr", server.Addr)
	v.SetDefault("server.read_header_timeout", server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", server.ShutdownTimeout)

	v.SetDefault("log.level", zerolog.InfoLevel.String())
	v.SetDefault("log.pretty", false)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Client.BaseURL != "" {
		u, err := url.Parse(c.Client.BaseURL)
		if err != nil {
			return fmt.Errorf("client.base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("client.base_url: unsupported scheme %q", u.Scheme)
		}
	}
	if _, err := c.Client.params(); err != nil {
		return err
	}
	if _, err := c.Client.transportConfig(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Defaults converts the client settings to httpclient.Defaults.
// Invalid params are skipped; Load has already rejected them.
func (c ClientConfig) Defaults() httpclient.Defaults {
	params, _ := c.params()
	return httpclient.Defaults{
		BaseURL:     c.BaseURL,
		BaseHeaders: c.Headers,
		BaseParams:  params,
	}
}

func (c ClientConfig) params() ([]httpclient.Param, error) {
	params := make([]httpclient.Param, 0, len(c.Params))
	for _, p := range c.Params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("client.params: %q is not key=value", p)
		}
		params = append(params, httpclient.Param{Key: key, Value: value})
	}
	return params, nil
}

func (c ClientConfig) transportConfig() (httpclient.Config, error) {
	var cfg httpclient.Config
	switch c.Preset {
	case "", PresetDefault:
		cfg = httpclient.DefaultConfig()
	case PresetHighThroughput:
		cfg = httpclient.HighThroughputConfig()
	case PresetLowLatency:
		cfg = httpclient.LowLatencyConfig()
	case PresetConservative:
		cfg = httpclient.ConservativeConfig()
	default:
		return httpclient.Config{}, fmt.Errorf("client.preset: unknown preset %q", c.Preset)
	}

	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	if c.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = c.MaxBodyBytes
	}
	return cfg, nil
}

// Options returns the httpclient options for these settings, ending with
// WithDefaults and WithLogger.
func (c ClientConfig) Options(logger zerolog.Logger) ([]httpclient.Option, error) {
	transport, err := c.transportConfig()
	if err != nil {
		return nil, err
	}

	opts := []httpclient.Option{
		httpclient.WithConfig(transport),
		httpclient.WithServiceName(c.ServiceName),
		httpclient.WithDebug(c.Debug),
	}

	if c.RequestIDHeader != "" {
		opts = append(opts, httpclient.WithRequestIDHeader(c.RequestIDHeader))
	}

	if c.Retry.MaxRetries > 0 {
		rc := httpclient.DefaultRetryConfig()
		rc.MaxRetries = c.Retry.MaxRetries
		if c.Retry.InitialInterval > 0 {
			rc.InitialInterval = c.Retry.InitialInterval
		}
		if c.Retry.MaxInterval > 0 {
			rc.MaxInterval = c.Retry.MaxInterval
		}
		opts = append(opts, httpclient.WithRetryConfig(rc))
	}

	if c.RateLimit.RequestsPerSecond > 0 {
		opts = append(opts, httpclient.WithRateLimit(httpclient.RateLimitConfig{
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			Burst:             c.RateLimit.Burst,
			WaitOnLimit:       c.RateLimit.Wait,
		}))
	}

	if c.Breaker.Enabled {
		bc := httpclient.DefaultBreakerConfig()
		if c.Breaker.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: c.Breaker.RedisAddr})
			bc = httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb))
		}
		opts = append(opts, httpclient.WithBreakerConfig(bc))
	}

	return append(opts,
		httpclient.WithDefaults(c.Defaults()),
		httpclient.WithLogger(logger),
	), nil
}

// HTTPBin converts the server settings for httpbin.NewServer.
func (c ServerConfig) HTTPBin() httpbin.ServerConfig {
	return httpbin.ServerConfig{
		Addr:              c.Addr,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
		ShutdownTimeout:   c.ShutdownTimeout,
	}
}

// Logger builds the process logger. Pretty output goes to stderr through
// a console writer; otherwise JSON lines are written to stderr.
func (c LogConfig) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if c.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
