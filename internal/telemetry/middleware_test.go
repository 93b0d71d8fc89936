package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestRouter(mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw...)
	r.Get("/v1/feed/destinations/{market}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/feed/generate", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return r
}

func TestHTTPMetrics_NilProvider(t *testing.T) {
	t.Parallel()

	m, err := NewHTTPMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, m.Middleware(next))
}

func TestHTTPMetrics_RecordsByRoutePattern(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewHTTPMetrics(provider)
	require.NoError(t, err)

	router := newTestRouter(m.Middleware)
	for _, market := range []string{"EU", "US", "GB"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feed/destinations/"+market, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	metrics := collect(t, reader, HTTPMetricsMeterName)
	total, ok := metrics["thv_feed_http_requests_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, total.DataPoints, 1, "one series per route pattern, not per path")
	assert.Equal(t, int64(3), total.DataPoints[0].Value)

	route, _ := total.DataPoints[0].Attributes.Value("route")
	assert.Equal(t, "/v1/feed/destinations/{market}", route.AsString())

	active, ok := metrics["thv_feed_http_active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(0), active.DataPoints[0].Value)
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	router := newTestRouter(TracingMiddleware(provider))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feed/destinations/EU", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/feed/generate", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /v1/feed/destinations/{market}", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, "POST /v1/feed/generate", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestTracingMiddleware_NilProvider(t *testing.T) {
	t.Parallel()

	called := false
	handler := TracingMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestRoutePattern_Unrouted(t *testing.T) {
	t.Parallel()

	assert.Equal(t, unknownRoute, routePattern(httptest.NewRequest(http.MethodGet, "/nope", nil)))
}
