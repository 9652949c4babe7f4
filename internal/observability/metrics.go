package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a span on the module tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful.
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SyncMetrics instruments sync runs, connectivity checks and logins.
// A nil receiver is valid and records nothing.
type SyncMetrics struct {
	syncRuns     metric.Int64Counter
	syncRecords  metric.Int64Counter
	syncErrors   metric.Int64Counter
	syncDuration metric.Float64Histogram
	checks       metric.Int64Counter
	logins       metric.Int64Counter
}

// NewSyncMetrics creates the metric instruments.
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	syncRuns, err := meter.Int64Counter(
		"sync.runs",
		metric.WithDescription("Completed sync runs"),
		metric.WithUnit("{runs}"),
	)
	if err != nil {
		return nil, err
	}

	syncRecords, err := meter.Int64Counter(
		"sync.records",
		metric.WithDescription("Records processed by sync runs"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	syncErrors, err := meter.Int64Counter(
		"sync.errors",
		metric.WithDescription("Record-level sync errors"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram(
		"sync.duration",
		metric.WithDescription("Full sync duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	checks, err := meter.Int64Counter(
		"connectivity.checks",
		metric.WithDescription("Connectivity probes by outcome"),
		metric.WithUnit("{checks}"),
	)
	if err != nil {
		return nil, err
	}

	logins, err := meter.Int64Counter(
		"auth.logins",
		metric.WithDescription("Login attempts by mode and outcome"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncRuns:     syncRuns,
		syncRecords:  syncRecords,
		syncErrors:   syncErrors,
		syncDuration: syncDuration,
		checks:       checks,
		logins:       logins,
	}, nil
}

// RecordSyncRun records one completed sync run.
func (m *SyncMetrics) RecordSyncRun(ctx context.Context, success bool, records, errs int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.syncRuns.Add(ctx, 1, attrs)
	m.syncRecords.Add(ctx, int64(records), attrs)
	m.syncErrors.Add(ctx, int64(errs))
	m.syncDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordCheck records one connectivity probe.
func (m *SyncMetrics) RecordCheck(ctx context.Context, online bool) {
	if m == nil {
		return
	}
	m.checks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("online", online)))
}

// RecordLogin records one login attempt.
func (m *SyncMetrics) RecordLogin(ctx context.Context, offline, success bool) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("offline", offline),
		attribute.Bool("success", success),
	))
}
