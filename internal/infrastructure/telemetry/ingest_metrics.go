package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when metrics are built without a meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

// Ingestion outcome labels
const (
	IngestStatusCreated   = "created"
	IngestStatusDuplicate = "duplicate"
	IngestStatusRejected  = "rejected"
	IngestStatusFailed    = "failed"
)

// IngestMetrics records ingestion, webhook and sync outcomes.
type IngestMetrics struct {
	ingestTotal      *Counter
	ingestDuration   *Histogram
	syncRemovedTotal *Counter
	syncObservedKeys *Gauge
	webhookRejected  *Counter
}

// NewIngestMetrics creates the ingestion instruments on meter.
func NewIngestMetrics(meter metric.Meter) (*IngestMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	var (
		m   IngestMetrics
		err error
	)
	if m.ingestTotal, err = NewCounter(meter,
		"scanhub_ingest_total",
		"Capture ingestion attempts by source and outcome",
		"{capture}",
	); err != nil {
		return nil, err
	}
	if m.ingestDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "scanhub_ingest_duration_seconds",
		Description: "Time to ingest one capture",
		Unit:        "s",
		Boundaries:  IngestDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.syncRemovedTotal, err = NewCounter(meter,
		"scanhub_sync_removed_total",
		"Scans deleted by mirror-mode bucket sync",
		"{scan}",
	); err != nil {
		return nil, err
	}
	if m.syncObservedKeys, err = NewGauge(meter,
		"scanhub_sync_observed_keys",
		"Distinct ingest keys seen by the most recent sync",
		"{key}",
	); err != nil {
		return nil, err
	}
	if m.webhookRejected, err = NewCounter(meter,
		"scanhub_webhook_rejected_total",
		"Webhook requests rejected before ingestion",
		"{request}",
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordIngest counts one attempt and its latency.
func (m *IngestMetrics) RecordIngest(ctx context.Context, source, status string, elapsed time.Duration) {
	m.ingestTotal.Inc(ctx, AttrSource.String(source), AttrStatus.String(status))
	m.ingestDuration.RecordDuration(ctx, elapsed, AttrSource.String(source))
}

// RecordSync records a completed sync run.
func (m *IngestMetrics) RecordSync(ctx context.Context, mode string, removed, observed int) {
	if removed > 0 {
		m.syncRemovedTotal.Add(ctx, int64(removed), AttrMode.String(mode))
	}
	m.syncObservedKeys.Record(ctx, int64(observed), AttrMode.String(mode))
}

// RecordWebhookRejected counts a webhook turned away, by reason.
func (m *IngestMetrics) RecordWebhookRejected(ctx context.Context, reason string) {
	m.webhookRejected.Inc(ctx, AttrReason.String(reason))
}
