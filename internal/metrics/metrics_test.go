package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("gatekeeper-test")

	m.ObserveLockout(ResultAutoLocked, "single")
	m.ObserveLockout(ResultAutoLocked, "single")
	m.ObserveSideEffectFailure(SinkDatabase, "record_failed_attempt")
	m.ObserveCleanup("token_blacklist", 3)
	m.ObserveCleanup("token_blacklist", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LockoutDecisions.WithLabelValues(ResultAutoLocked, "single")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues(SinkDatabase, "record_failed_attempt")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CleanupRowsDeleted.WithLabelValues("token_blacklist")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveLockout(ResultUnlocked, "batch")
		m.ObserveLogin("success")
		m.ObserveBlacklist("miss", "database")
		m.ObserveSideEffectFailure(SinkKafka, "publish")
		m.ObserveCleanup("failed_login_attempts", 1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("gatekeeper-test")
	m.ObserveLogin("locked")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `login_attempts_total{outcome="locked",service="gatekeeper-test"} 1`))
}
