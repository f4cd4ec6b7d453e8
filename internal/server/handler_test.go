package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpsHandler_Health(t *testing.T) {
	t.Parallel()
	h := NewOpsHandler(OpsOptions{Gatherer: prometheus.NewRegistry()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestOpsHandler_Ready(t *testing.T) {
	t.Parallel()
	h := NewOpsHandler(OpsOptions{
		Gatherer: prometheus.NewRegistry(),
		Checks: map[string]HealthCheck{
			"store": func(ctx context.Context) error { return nil },
			"redis": func(ctx context.Context) error { return errors.New("connection refused") },
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["store"])
	assert.Equal(t, "connection refused", body["redis"])
}

func TestOpsHandler_Status(t *testing.T) {
	t.Parallel()

	h := NewOpsHandler(OpsOptions{Gatherer: prometheus.NewRegistry()})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = NewOpsHandler(OpsOptions{
		Gatherer: prometheus.NewRegistry(),
		Status:   func() any { return map[string]int{"active": 2} },
	})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":2}`, rec.Body.String())
}

func TestOpsHandler_MetricsAndInstrumentation(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("ops", reg, nil)

	h := NewOpsHandler(OpsOptions{Gatherer: reg, Metrics: collector})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ops_http_requests_total"))

	n, err := testutil.GatherAndCount(reg, "ops_http_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
