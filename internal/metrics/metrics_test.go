package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt(FlowLogin, ResultSuccess)
	c.RecordAuthAttempt(FlowLogin, ResultSuccess)
	c.RecordAuthAttempt(FlowLogin, ResultFailure)
	c.RecordTokenIssued(KindAccess)
	c.RecordHTTPStatus(http.StatusCreated)
	c.RecordHTTPLatency(15 * time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(c.authAttempts.WithLabelValues(FlowLogin, ResultSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.authAttempts.WithLabelValues(FlowLogin, ResultFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.tokensIssued.WithLabelValues(KindAccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("201")))

	n, err := testutil.GatherAndCount(reg, "backoffice_http_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNewCollector_DoubleRegisterPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewCollector(reg)
	require.Panics(t, func() { NewCollector(reg) })
}

func TestHandler_Exposes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordTokenIssued(KindRefresh)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `backoffice_tokens_issued_total{kind="refresh"} 1`)
}

func TestNop(t *testing.T) {
	t.Parallel()

	var r Recorder = Nop{}
	r.RecordAuthAttempt(FlowRefresh, ResultError)
	r.RecordTokenIssued(KindAccess)
	r.RecordHTTPStatus(500)
	r.RecordHTTPLatency(time.Second)
}
