package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	for _, cfg := range []*Config{nil, {Enabled: false}, {Enabled: true}} {
		tel, err := New(context.Background(), cfg, "v1")
		require.NoError(t, err)

		assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
		assert.IsType(t, metricnoop.MeterProvider{}, tel.MeterProvider())
		assert.Nil(t, tel.MetricsHandler())
		assert.NoError(t, tel.Shutdown(context.Background()))
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &Config{
		Enabled: true,
		Metrics: MetricsConfig{Enabled: true},
	}, "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry configuration")
}

//nolint:paralleltest // sets the global meter provider
func TestNew_PrometheusEndpoint(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, &Config{
		Enabled: true,
		Metrics: MetricsConfig{Enabled: true, Prometheus: true},
	}, "v1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	require.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())
	handler := tel.MetricsHandler()
	require.NotNil(t, handler)

	reg, err := NewRegistrationMetrics(tel.MeterProvider())
	require.NoError(t, err)
	reg.RecordOutcome(ctx, "EU", OutcomeAdded)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "thv_feed_registrations")
	assert.Contains(t, string(body), `market="EU"`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	tel := Noop()
	tel.shutdown = append(tel.shutdown, func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, tel.Shutdown(context.Background()))
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}
