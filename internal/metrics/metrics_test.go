package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	m := New()
	at := time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)

	m.RecordRun(ResultSuccess, at)
	m.RecordRun(ResultFailure, at.Add(time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ResultFailure)))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.LastSuccess))
}

func TestRecordBuckets(t *testing.T) {
	m := New()
	m.RecordBuckets(3, 1, 2)
	m.RecordBuckets(4, 0, 1)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.Events.WithLabelValues("before")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Events.WithLabelValues("after")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ItemsSkipped))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun(ResultSuccess, time.Now())
		m.RecordBuckets(1, 1, 1)
		m.ObserveStage("fetch", time.Second)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveStage("fetch", 150*time.Millisecond)
	m.RecordRun(ResultSkipped, time.Now())

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `calnews_runs_total{result="skipped"} 1`)
	assert.Contains(t, string(body), `calnews_stage_duration_seconds_count{stage="fetch"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
