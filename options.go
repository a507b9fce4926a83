package stixgraph

import (
	"log/slog"

	"github.com/zero-day-ai/stixgraph/config"
	"github.com/zero-day-ai/stixgraph/graph"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	cfg        *config.Config
	configPath string
	store      graph.Store
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.MeterProvider
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(c *clientConfig) {
		c.cfg = cfg
	}
}

// WithConfigFile loads the configuration from path. Ignored when WithConfig
// is also given.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) {
		c.configPath = path
	}
}

// WithStore uses store instead of opening the one named by the configuration.
// The Client does not close a store passed this way.
func WithStore(store graph.Store) Option {
	return func(c *clientConfig) {
		c.store = store
	}
}

// WithLogger sets a custom logger.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for export and import spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *clientConfig) {
		c.tracer = tracer
	}
}

// WithMeterProvider sets the provider for import metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *clientConfig) {
		c.meter = mp
	}
}
