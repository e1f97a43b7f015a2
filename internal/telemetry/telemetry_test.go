package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/longtask/config"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func enabledConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "longtask-test",
		SampleRate:   1.0,
	}
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledRecordsSpans(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	exporter := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	p, err := Init(context.Background(), enabledConfig(), zaptest.NewLogger(t),
		WithVersion("test"),
		WithSpanExporter(exporter),
		WithMetricReader(reader),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)

	_, span := otel.Tracer("longtask/test").Start(context.Background(), "task.invoke")
	span.End()
	require.NoError(t, p.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "task.invoke", spans[0].Name)
}

func TestInit_OTLPExporters(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	// gRPC 连接是惰性的，没有 collector 也能创建
	p, err := Init(context.Background(), enabledConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, p.tp)
	assert.NotNil(t, p.mp)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestProviders_NilSafe(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.ForceFlush(context.Background()))
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), "longtask", "v1.2.3")
	require.NoError(t, err)

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "longtask", got["service.name"])
	assert.Equal(t, "v1.2.3", got["service.version"])
	assert.NotEmpty(t, got["service.instance.id"])
}
