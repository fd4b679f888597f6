package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okrline/internal/domain"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("GET", "/x", 200, time.Millisecond)
	m.RecordRecompute(nil)
	m.RecordDenial("task", "read", domain.ErrPermissionDenied)
	m.RecordCascade(map[string]int{"task": 1})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordRecompute(nil)
	m.RecordRecompute(errors.New("boom"))
	m.RecordRecompute(nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recomputes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recomputes.WithLabelValues("error")))

	m.RecordDenial("epic", "delete", errors.New("other"))
	m.RecordDenial("epic", "delete", domain.ErrPermissionDenied)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.denials.WithLabelValues("epic", "delete")))

	m.RecordCascade(map[string]int{"task": 4, "activity": 2})
	assert.Equal(t, 4.0, testutil.ToFloat64(m.cascadeRows.WithLabelValues("task")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP("GET", "/v0/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `okrline_http_requests_total{method="GET",route="/v0/health",status="200"} 1`)
}
