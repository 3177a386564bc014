package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder emits per-stage duration histograms and per-operation counters
// for one component (ingestion or search). Grounded on the teacher's
// rag/service.Metrics seam (IncCounter/ObserveHistogram, injected via
// WithMetrics and defaulting to a NoopMetrics), generalized here from an
// ad hoc string-keyed call site to two instruments bound once at
// construction. Built from otel.GetMeterProvider(), so a Recorder is a
// real exporting instrument when telemetry.Setup ran with Enabled true,
// and a harmless no-op otherwise: the API guarantees the global provider's
// default MeterProvider hands back no-op instruments.
type Recorder struct {
	stage metric.Float64Histogram
	total metric.Int64Counter
}

func newRecorder(meterName, stageMetric, stageDesc, totalMetric, totalDesc string) *Recorder {
	meter := otel.GetMeterProvider().Meter(meterName)
	stage, _ := meter.Float64Histogram(stageMetric, metric.WithDescription(stageDesc), metric.WithUnit("ms"))
	total, _ := meter.Int64Counter(totalMetric, metric.WithDescription(totalDesc))
	return &Recorder{stage: stage, total: total}
}

// NewIngestionRecorder builds the Recorder the ingestion pipeline reports
// through: ingestion_stage_ms per stage, ingestion_docs_total per
// completed document.
func NewIngestionRecorder() *Recorder {
	return newRecorder(
		"docusearchd/ingestion",
		"ingestion_stage_ms", "milliseconds spent in one ingestion pipeline stage",
		"ingestion_docs_total", "documents that completed ingestion",
	)
}

// NewSearchRecorder builds the Recorder the search engine reports
// through: retrieval_stage_ms per stage, retrieval_results_total per
// query's returned rows.
func NewSearchRecorder() *Recorder {
	return newRecorder(
		"docusearchd/search",
		"retrieval_stage_ms", "milliseconds spent in one search engine stage",
		"retrieval_results_total", "result rows returned by a search query",
	)
}

// ObserveStage records how long the named stage took. Safe to call on a
// nil *Recorder (treated as a no-op), so callers that construct a
// Pipeline/Engine by hand in tests don't need to wire one.
func (r *Recorder) ObserveStage(ctx context.Context, stage string, d time.Duration, attrs ...attribute.KeyValue) {
	if r == nil || r.stage == nil {
		return
	}
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	all = append(all, attribute.String("stage", stage))
	all = append(all, attrs...)
	r.stage.Record(ctx, float64(d.Microseconds())/1000.0, metric.WithAttributes(all...))
}

// IncTotal adds n to the component's completion/result counter.
func (r *Recorder) IncTotal(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if r == nil || r.total == nil {
		return
	}
	r.total.Add(ctx, n, metric.WithAttributes(attrs...))
}
