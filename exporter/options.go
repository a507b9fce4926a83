package exporter

import (
	"fmt"
	"log/slog"

	"github.com/zero-day-ai/stixgraph/mapping"
	"go.opentelemetry.io/otel/trace"
)

// Mode selects how much of the graph ExportEntity emits.
type Mode string

const (
	// ModeSimple emits the root entity only.
	ModeSimple Mode = "simple"

	// ModeFull emits the root and everything reachable over relationships.
	ModeFull Mode = "full"
)

// ParseMode parses "simple" or "full".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSimple, ModeFull:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown export mode %q (want simple or full)", s)
	}
}

// MappingPolicy decides what happens when an entity cannot be mapped.
type MappingPolicy int

const (
	// MappingSkip logs the failure and leaves the object out of the bundle.
	MappingSkip MappingPolicy = iota

	// MappingFail aborts the export.
	MappingFail
)

// ParseMappingPolicy parses "skip" or "fail".
func ParseMappingPolicy(s string) (MappingPolicy, error) {
	switch s {
	case "", "skip":
		return MappingSkip, nil
	case "fail":
		return MappingFail, nil
	default:
		return MappingSkip, fmt.Errorf("unknown mapping policy %q (want skip or fail)", s)
	}
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithMapper sets the mapper. Defaults to mapping.New().
func WithMapper(m *mapping.Mapper) Option {
	return func(e *Exporter) {
		e.mapper = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer. Defaults to a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Exporter) {
		e.tracer = tracer
	}
}

// WithMaxDepth bounds the full-mode walk to n relationship hops from the
// root. Zero means unbounded.
func WithMaxDepth(n int) Option {
	return func(e *Exporter) {
		e.maxDepth = n
	}
}

// WithMappingPolicy sets the mapping failure policy. Defaults to MappingSkip.
func WithMappingPolicy(p MappingPolicy) Option {
	return func(e *Exporter) {
		e.policy = p
	}
}
