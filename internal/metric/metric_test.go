package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.AcquireSucceeded(60)
	m.RenewalFailed()
	m.HotSwapped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsAcquired.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Renewals.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HotSwaps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))

	_, err = New(reg)
	require.Error(t, err, "registering twice must fail")
}

func TestNilMetrics_AreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AcquireSucceeded(1)
		m.AcquireFailed()
		m.RenewalSucceeded(1)
		m.RenewalFailed()
		m.HotSwapped()
		m.Restarted()
		m.TornDown()
		m.StreamEnded()
	})
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.Restarted()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "streamgrid_self_healing_restarts_total 1")
}
