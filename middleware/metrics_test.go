package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	mw "github.com/ConvoSphere/DataExtract/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { //nolint:errcheck // outcome checked via metrics
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "dataextract.job.duration")
	if metric == nil {
		t.Fatal("dataextract.job.duration metric not found")
	}

	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points recorded for duration")
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("expected count=1, got %d", hist.DataPoints[0].Count)
	}
}

func TestMetrics_RecordsExecutionStatus(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { //nolint:errcheck // outcome checked via metrics
		return nil
	})
	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { //nolint:errcheck // outcome checked via metrics
		return errors.New("boom")
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "dataextract.job.executions")
	if metric == nil {
		t.Fatal("dataextract.job.executions metric not found")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}

	statuses := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		if status, found := dp.Attributes.Value(attribute.Key("status")); found {
			statuses[status.AsString()] += dp.Value
		}
	}
	if statuses["ok"] != 1 || statuses["error"] != 1 {
		t.Errorf("status counts = %v, want ok:1 error:1", statuses)
	}
}

func TestTracing_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := mw.TracingWithTracer(tp.Tracer("test"))

	j := newTestJob()
	_ = m(context.Background(), j, func(_ context.Context) error { //nolint:errcheck // outcome checked via span
		return nil
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name() != "dataextract.job.execute" {
		t.Errorf("span name = %q", spans[0].Name())
	}

	var foundID bool
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "dataextract.job.id" && attr.Value.AsString() == j.ID.String() {
			foundID = true
		}
	}
	if !foundID {
		t.Error("span missing dataextract.job.id attribute")
	}
}

func TestTracing_RecordsErrorStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := mw.TracingWithTracer(tp.Tracer("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error { //nolint:errcheck // outcome checked via span
		return errors.New("boom")
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if len(spans[0].Events()) == 0 {
		t.Error("error not recorded on span")
	}
}
