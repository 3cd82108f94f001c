package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ItemRead("comment")
		m.QueueDepth("comment", 3)
		m.Dispatched("echo", "reacted", time.Second)
		m.DispatchError("echo", "HANDLER_FAILED")
		m.Retried("echo")
		m.Updated("echo", "ok")
		m.Tick(time.Second)
		m.Compacted("dedup_records", 4)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.ItemRead("comment")
	m.ItemRead("comment")
	m.Dispatched("echo", "reacted", 10*time.Millisecond)
	m.DispatchError("echo", "RETRIES_EXHAUSTED")
	m.Compacted("deferred_tasks", 7)
	m.Compacted("deferred_tasks", 0)

	assert.Equal(t, 2.0, counterValue(t, m.items.WithLabelValues("comment")))
	assert.Equal(t, 1.0, counterValue(t, m.dispatches.WithLabelValues("echo", "reacted")))
	assert.Equal(t, 1.0, counterValue(t, m.dispatchErrors.WithLabelValues("echo", "RETRIES_EXHAUSTED")))
	assert.Equal(t, 7.0, counterValue(t, m.compacted.WithLabelValues("deferred_tasks")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ItemRead("submission")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rover_items_total{stream="submission"} 1`)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, c.Write(&pb))
	return pb.GetCounter().GetValue()
}
