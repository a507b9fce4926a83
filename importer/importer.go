package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/mapping"
	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Importer applies STIX2 bundles to a graph store.
// An Importer is safe for concurrent use; each call gets its own state.
type Importer struct {
	store         graph.Store
	mapper        *mapping.Mapper
	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	metrics       *importMetrics
	concurrency   int
	unknownTypes  UnknownTypePolicy
	timeout       time.Duration
}

// New creates an Importer writing to store.
func New(store graph.Store, opts ...Option) (*Importer, error) {
	im := &Importer{
		store:       store,
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer("stixgraph/importer"),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(im)
	}
	if im.mapper == nil {
		im.mapper = mapping.New()
	}
	if im.meterProvider == nil {
		im.meterProvider = metricnoop.NewMeterProvider()
	}
	if im.concurrency < 1 {
		im.concurrency = 1
	}

	metrics, err := newImportMetrics(im.meterProvider.Meter("stixgraph/importer"))
	if err != nil {
		return nil, err
	}
	im.metrics = metrics
	return im, nil
}

// ImportReader parses a bundle from r and imports it.
func (im *Importer) ImportReader(ctx context.Context, r io.Reader, updateExisting bool) (*Result, error) {
	b, err := ParseBundle(r)
	if err != nil {
		res := newResult()
		res.Status = StatusAborted
		return res, err
	}
	return im.ImportBundle(ctx, b, updateExisting)
}

// ImportBundle imports b. With updateExisting false, objects already in the
// store are left untouched; with true they are overwritten.
//
// The returned Result is never nil. The error is non-nil when the call was
// aborted (malformed bundle, fatal store error, UnknownTypeFail) or timed
// out; the Result then describes the work done before that point.
func (im *Importer) ImportBundle(ctx context.Context, b *stix.Bundle, updateExisting bool) (*Result, error) {
	const op = "Importer.ImportBundle"
	start := time.Now()

	if im.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.timeout)
		defer cancel()
	}

	var objects int
	if b != nil {
		objects = len(b.Objects)
	}
	ctx, span := im.tracer.Start(ctx, "stixgraph.import_bundle", trace.WithAttributes(
		attribute.Int("stixgraph.objects", objects),
		attribute.Bool("stixgraph.update_existing", updateExisting),
	))
	defer span.End()

	r := newRun(im, updateExisting)
	err := r.execute(ctx, op, b)
	r.collectSettled()
	res := r.result

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusTimeout
		err = stixerr.NewTimeoutError(op, err)
	default:
		res.Status = StatusAborted
	}
	res.finish()

	elapsed := float64(time.Since(start).Milliseconds())
	im.metrics.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("stixgraph.status", string(res.Status))))

	span.SetAttributes(
		attribute.Int("stixgraph.created", len(res.CreatedIDs)),
		attribute.Int("stixgraph.updated", len(res.UpdatedIDs)),
		attribute.Int("stixgraph.skipped_refs", len(res.SkippedRefs)),
		attribute.Int("stixgraph.failures", len(res.Failures)),
		attribute.String("stixgraph.status", string(res.Status)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		im.logger.Error("bundle import stopped",
			slog.String("status", string(res.Status)),
			slog.Int("created", len(res.CreatedIDs)),
			slog.Int("updated", len(res.UpdatedIDs)),
			slog.String("error", err.Error()),
		)
		return res, err
	}

	span.SetStatus(codes.Ok, "")
	im.logger.Info("bundle imported",
		slog.String("status", string(res.Status)),
		slog.Int("objects", objects),
		slog.Int("created", len(res.CreatedIDs)),
		slog.Int("updated", len(res.UpdatedIDs)),
		slog.Int("unchanged", res.Unchanged()),
		slog.Int("skipped_refs", len(res.SkippedRefs)),
		slog.Int("failures", len(res.Failures)),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (im *Importer) upsertMode(updateExisting bool) graph.UpsertMode {
	if updateExisting {
		return graph.Upsert
	}
	return graph.CreateIfAbsent
}

// validateBundle checks the bundle shape.
func validateBundle(op string, b *stix.Bundle) error {
	if b == nil {
		return stixerr.NewMalformedBundleError(op, fmt.Errorf("%w: nil bundle", stixerr.ErrMalformedBundle))
	}
	if err := b.Validate(); err != nil {
		return stixerr.NewMalformedBundleError(op, fmt.Errorf("%w: %v", stixerr.ErrMalformedBundle, err))
	}
	return nil
}
