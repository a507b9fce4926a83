package importer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/zero-day-ai/stixgraph/mapping"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultConcurrency is the number of objects written in parallel.
const DefaultConcurrency = 4

// UnknownTypePolicy decides what happens to objects whose type has no mapping.
type UnknownTypePolicy int

const (
	// UnknownTypeSkip records a failure for the object and continues.
	UnknownTypeSkip UnknownTypePolicy = iota

	// UnknownTypeFail aborts the import.
	UnknownTypeFail
)

// ParseUnknownTypePolicy parses "skip" or "fail".
func ParseUnknownTypePolicy(s string) (UnknownTypePolicy, error) {
	switch s {
	case "", "skip":
		return UnknownTypeSkip, nil
	case "fail":
		return UnknownTypeFail, nil
	default:
		return UnknownTypeSkip, fmt.Errorf("unknown type policy %q (want skip or fail)", s)
	}
}

// Option configures an Importer.
type Option func(*Importer)

// WithMapper sets the mapper. Defaults to mapping.New().
func WithMapper(m *mapping.Mapper) Option {
	return func(im *Importer) {
		im.mapper = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) {
		im.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer. Defaults to a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(im *Importer) {
		im.tracer = tracer
	}
}

// WithMeterProvider records import metrics through mp. Defaults to a no-op
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(im *Importer) {
		im.meterProvider = mp
	}
}

// WithConcurrency bounds the number of objects written in parallel.
// Values below one mean sequential processing.
func WithConcurrency(n int) Option {
	return func(im *Importer) {
		im.concurrency = n
	}
}

// WithUnknownTypePolicy sets the policy for unmapped object types.
func WithUnknownTypePolicy(p UnknownTypePolicy) Option {
	return func(im *Importer) {
		im.unknownTypes = p
	}
}

// WithTimeout bounds every ImportBundle call. Zero means no bound beyond
// the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(im *Importer) {
		im.timeout = d
	}
}
