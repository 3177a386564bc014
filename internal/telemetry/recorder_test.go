package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collectInstrumentNames installs a ManualReader as the global
// MeterProvider, runs fn against it, and returns the set of instrument
// names the SDK actually recorded -- grounded on the teacher's
// obs.MockMetrics-backed assertions (rag/service/service_observability_test.go),
// adapted from a fake Metrics interface to a real, in-process OTel reader
// since this package builds Recorder directly on otel/metric rather than
// a hand-rolled seam.
func collectInstrumentNames(t *testing.T, fn func()) map[string]bool {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	defer otel.SetMeterProvider(prev)

	fn()

	var data metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &data); err != nil {
		t.Fatalf("collect: %v", err)
	}
	names := map[string]bool{}
	for _, sm := range data.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestIngestionRecorder_EmitsNamedInstruments(t *testing.T) {
	names := collectInstrumentNames(t, func() {
		r := NewIngestionRecorder()
		r.ObserveStage(context.Background(), "parse", 12*time.Millisecond)
		r.IncTotal(context.Background(), 1)
	})
	if !names["ingestion_stage_ms"] {
		t.Fatalf("expected ingestion_stage_ms, got %v", names)
	}
	if !names["ingestion_docs_total"] {
		t.Fatalf("expected ingestion_docs_total, got %v", names)
	}
}

func TestSearchRecorder_EmitsNamedInstruments(t *testing.T) {
	names := collectInstrumentNames(t, func() {
		r := NewSearchRecorder()
		r.ObserveStage(context.Background(), "stage1_recall", 5*time.Millisecond)
		r.IncTotal(context.Background(), 3)
	})
	if !names["retrieval_stage_ms"] {
		t.Fatalf("expected retrieval_stage_ms, got %v", names)
	}
	if !names["retrieval_results_total"] {
		t.Fatalf("expected retrieval_results_total, got %v", names)
	}
}

func TestRecorder_NilReceiverIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveStage(context.Background(), "parse", time.Millisecond)
	r.IncTotal(context.Background(), 1)
}
