package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func zapNop() *zap.Logger { return zap.NewNop() }

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestStartSpan_AttributesAndStatus(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartSpan(context.Background(), "ingest.capture",
		SpanAttrIngestKey, "raw/dev-0001/cap_1/",
		SpanAttrSource, "webhook",
		42, "dropped: key is not a string",
	)
	SetAttributes(span, "scan.objects", 3)
	RecordError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "ingest.capture", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "raw/dev-0001/cap_1/", attrs[SpanAttrIngestKey].AsString())
	assert.Equal(t, int64(3), attrs["scan.objects"].AsInt64())
	assert.Len(t, attrs, 3)
}

func TestSetOK(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartSpan(context.Background(), "sync.run")
	SetOK(span)
	RecordError(span, nil)
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, codes.Ok, recorder.Ended()[0].Status().Code)
}

func TestRegisterDBTracing(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{Enabled: false}, zapNop()))

	recorder := withRecorder(t)
	cfg := DefaultDBTracingConfig()
	cfg.Enabled = true
	cfg.DBSystem = "sqlite"
	require.NoError(t, RegisterDBTracing(db, cfg, zapNop()))

	type probe struct {
		ID   uint
		Code string
	}
	require.NoError(t, db.AutoMigrate(&probe{}))

	ctx, span := StartSpan(context.Background(), "parent")
	require.NoError(t, db.WithContext(ctx).Create(&probe{Code: "dev-0001"}).Error)
	span.End()

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "parent")
	assert.Greater(t, len(names), 1, "otelgorm emits a span per statement")
}
