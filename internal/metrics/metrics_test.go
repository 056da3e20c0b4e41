package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"valorant-rank/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New()
	m.Logins.WithLabelValues("na", "success").Inc()
	m.ResolverRequests.WithLabelValues("rate_limited").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `riot_logins_total{outcome="success",region="na"} 1`)
	assert.Contains(t, string(body), `hdev_resolve_requests_total{outcome="rate_limited"} 1`)
}
