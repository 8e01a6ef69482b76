package observer

import (
	"context"
	"time"

	lore "github.com/halvard/lore"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRetriever wraps a lore.Searcher with OTEL instrumentation.
type ObservedRetriever struct {
	inner lore.Searcher
	inst  *Instruments
}

var _ lore.Searcher = (*ObservedRetriever)(nil)

// WrapRetriever returns an instrumented searcher.
func WrapRetriever(inner lore.Searcher, inst *Instruments) *ObservedRetriever {
	return &ObservedRetriever{inner: inner, inst: inst}
}

func (o *ObservedRetriever) Search(ctx context.Context, query string, opts lore.SearchOptions) ([]lore.SearchResult, error) {
	ctx, span := o.startSpan(ctx, "search.documents", opts)
	defer span.End()
	start := time.Now()

	results, err := o.inner.Search(ctx, query, opts)
	o.record(ctx, span, opts, start, len(results), err)
	return results, err
}

func (o *ObservedRetriever) SearchChunks(ctx context.Context, query string, opts lore.SearchOptions) ([]lore.ChunkResult, error) {
	ctx, span := o.startSpan(ctx, "search.chunks", opts)
	defer span.End()
	start := time.Now()

	results, err := o.inner.SearchChunks(ctx, query, opts)
	o.record(ctx, span, opts, start, len(results), err)
	return results, err
}

func (o *ObservedRetriever) startSpan(ctx context.Context, name string, opts lore.SearchOptions) (context.Context, trace.Span) {
	mode := opts.Mode
	if mode == "" {
		mode = lore.ModeHybrid
	}
	return o.inst.Tracer.Start(ctx, name, trace.WithAttributes(
		AttrSearchMode.String(string(mode)),
		AttrSearchLimit.Int(opts.Limit),
	))
}

func (o *ObservedRetriever) record(ctx context.Context, span trace.Span, opts lore.SearchOptions, start time.Time, count int, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	mode := opts.Mode
	if mode == "" {
		mode = lore.ModeHybrid
	}
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrSearchResults.Int(count))

	o.inst.SearchRequests.Add(ctx, 1, metric.WithAttributes(
		AttrSearchMode.String(string(mode)),
		AttrStatus.String(status),
	))
	o.inst.SearchDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrSearchMode.String(string(mode)),
	))
	o.inst.SearchResults.Record(ctx, int64(count), metric.WithAttributes(
		AttrSearchMode.String(string(mode)),
	))
}
