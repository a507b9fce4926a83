package importer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// importMetrics holds the metric instruments, created once per Importer.
type importMetrics struct {
	// objects counts processed objects by outcome.
	objects metric.Int64Counter

	// duration records ImportBundle wall time in milliseconds.
	duration metric.Float64Histogram
}

func newImportMetrics(meter metric.Meter) (*importMetrics, error) {
	m := &importMetrics{}
	var err error

	m.objects, err = meter.Int64Counter(
		"stixgraph.import.objects",
		metric.WithDescription("Number of STIX objects processed, by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create objects counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"stixgraph.import.duration",
		metric.WithDescription("Bundle import duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return m, nil
}

func (m *importMetrics) object(ctx context.Context, kind, outcome string) {
	m.objects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stixgraph.object_kind", kind),
		attribute.String("stixgraph.outcome", outcome),
	))
}
