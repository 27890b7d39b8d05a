package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
)

// ChunkEvent describes one finished insert attempt.
type ChunkEvent struct {
	Table     string
	Level     int
	Span      entity.Span
	ChunkSize int
	Accepted  int
	Err       error
	Duration  time.Duration
}

func (e ChunkEvent) OK() bool {
	return e.Err == nil
}

// Observer receives progress of upload passes. Level 0 is the first pass,
// level k is the k-th retry level. Calls may come from several goroutines
// when the uploader runs with workers.
type Observer interface {
	ChunkAttempted(ctx context.Context, ev ChunkEvent)
	SpanRetried(ctx context.Context, level int, span entity.Span, report entity.Report)
}

type nopObserver struct{}

func (nopObserver) ChunkAttempted(context.Context, ChunkEvent) {}

func (nopObserver) SpanRetried(context.Context, int, entity.Span, entity.Report) {}

// Observers fans every notification out to each observer in order.
type Observers []Observer

func (o Observers) ChunkAttempted(ctx context.Context, ev ChunkEvent) {
	for _, ob := range o {
		ob.ChunkAttempted(ctx, ev)
	}
}

func (o Observers) SpanRetried(ctx context.Context, level int, span entity.Span, report entity.Report) {
	for _, ob := range o {
		ob.SpanRetried(ctx, level, span, report)
	}
}

// SlogObserver writes progress lines to the default slog logger.
type SlogObserver struct{}

func (SlogObserver) ChunkAttempted(ctx context.Context, ev ChunkEvent) {
	attrs := []any{
		"table", ev.Table,
		"level", ev.Level,
		"start", ev.Span.Start,
		"end", ev.Span.End,
		"chunk_size", ev.ChunkSize,
		"took", ev.Duration.String(),
	}
	if ev.OK() {
		slog.InfoContext(ctx, "uploaded chunk", append(attrs, "accepted", ev.Accepted)...)
		return
	}
	slog.WarnContext(ctx, "chunk upload failed", append(attrs, "error", ev.Err)...)
}

func (SlogObserver) SpanRetried(ctx context.Context, level int, span entity.Span, report entity.Report) {
	slog.InfoContext(ctx, "retry result",
		"level", level,
		"start", span.Start,
		"end", span.End,
		"chunk_size", report.ChunkSize,
		"successful_rows", report.SuccessfulRows,
		"total_rows", report.TotalRows,
	)
}

// MetricsSink is the subset of the metrics recorder used for uploads.
type MetricsSink interface {
	ObserveChunk(table string, level int, ok bool, accepted int, took time.Duration)
}

// MetricsObserver forwards chunk attempts to a MetricsSink.
type MetricsObserver struct {
	Sink MetricsSink
}

func (m MetricsObserver) ChunkAttempted(_ context.Context, ev ChunkEvent) {
	m.Sink.ObserveChunk(ev.Table, ev.Level, ev.OK(), ev.Accepted, ev.Duration)
}

func (MetricsObserver) SpanRetried(context.Context, int, entity.Span, entity.Report) {}
