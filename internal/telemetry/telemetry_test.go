package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("CONTENTMIRROR_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "contentmirror", "test"))
	_, span := Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	Shutdown(context.Background())
}

func TestRunMetricsRecordCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m := NewRunMetrics(provider.Meter("test"))
	ctx := context.Background()
	m.Written.Add(ctx, 3, CollectionAttr("pages"))
	m.Removed.Add(ctx, 1, CollectionAttr("pages"))
	m.Runs.Add(ctx, 1, OutcomeAttr("success"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[metric.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), totals["contentmirror.documents.written"])
	assert.Equal(t, int64(1), totals["contentmirror.entries.removed"])
	assert.Equal(t, int64(1), totals["contentmirror.runs"])
}
