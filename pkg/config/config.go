// Package config loads the YAML configuration of a routekit server.
package config

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/Suhaibinator/routekit/pkg/metrics"
	"github.com/Suhaibinator/routekit/pkg/middleware"
	"github.com/Suhaibinator/routekit/pkg/server"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when no configuration path is given.
var ErrConfigNotFound = errors.New("config path is empty")

// Config is the root of the server configuration file.
type Config struct {
	HTTP    *HTTPConfig    `yaml:"http" validate:"required"`
	Logger  *LoggerConfig  `yaml:"logger" validate:"required"`
	Metrics *MetricsConfig `yaml:"metrics" validate:"required"`
	IP      *IPConfig      `yaml:"ip" validate:"required"`
	TraceID bool           `yaml:"trace_id"`
}

// HTTPConfig holds listener and request limits.
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	GlobalTimeout   time.Duration `yaml:"global_timeout" validate:"gte=0"`
	MaxBodySize     int64         `yaml:"max_body_size" validate:"gte=0"`
}

// Addr returns the listen address.
func (c *HTTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type LoggerConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
	Path      string `yaml:"path" validate:"omitempty,startswith=/"`
}

type IPConfig struct {
	Source       string `yaml:"source" validate:"oneof=remote_addr x_forwarded_for x_real_ip custom_header"`
	CustomHeader string `yaml:"custom_header" validate:"required_if=Source custom_header"`
	TrustProxy   bool   `yaml:"trust_proxy"`
}

// Loader reads and validates configuration files.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Defaults returns the configuration used for every field the file leaves unset.
func (l *Loader) Defaults() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Logger: &LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: &MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		IP: &IPConfig{
			Source:     string(middleware.IPSourceXForwardedFor),
			TrustProxy: true,
		},
	}
}

// LoadFromFile reads the YAML file at configPath on top of the defaults and validates the result.
func (l *Loader) LoadFromFile(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errors.Wrap(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	return l.Parse(data)
}

// Parse decodes YAML data on top of the defaults and validates the result.
func (l *Loader) Parse(data []byte) (*Config, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, path string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(path)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "file read timeout")
	}
}

// BuildLogger creates a zap logger from the logger section.
func BuildLogger(config *LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	var zapConfig zap.Config
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build(zap.AddCaller())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}
	return logger, nil
}

// ServerConfig converts the configuration into a server.Config using logger.
// A Prometheus collector on a private registry is created when metrics are enabled.
func (c *Config) ServerConfig(logger *zap.Logger) (server.Config, error) {
	cfg := server.Config{
		Logger:            logger,
		GlobalTimeout:     c.HTTP.GlobalTimeout,
		GlobalMaxBodySize: c.HTTP.MaxBodySize,
		IPConfig: &middleware.IPConfig{
			Source:       middleware.IPSourceType(c.IP.Source),
			CustomHeader: c.IP.CustomHeader,
			TrustProxy:   c.IP.TrustProxy,
		},
		EnableTraceID:   c.TraceID,
		ReadTimeout:     c.HTTP.ReadTimeout,
		WriteTimeout:    c.HTTP.WriteTimeout,
		IdleTimeout:     c.HTTP.IdleTimeout,
		ShutdownTimeout: c.HTTP.ShutdownTimeout,
	}

	if c.Metrics.Enabled {
		collector, err := metrics.NewCollector(metrics.Config{
			Namespace:        c.Metrics.Namespace,
			Subsystem:        c.Metrics.Subsystem,
			EnableLatency:    true,
			EnableThroughput: true,
			EnableQPS:        true,
			EnableErrors:     true,
		})
		if err != nil {
			return cfg, errors.Wrap(err, "failed to create metrics collector")
		}
		cfg.EnableMetrics = true
		cfg.Metrics = collector
		cfg.MetricsPath = c.Metrics.Path
	}

	return cfg, nil
}
