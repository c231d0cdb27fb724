package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordPosting_UsesAbsoluteAmount(t *testing.T) {
	before := testutil.ToFloat64(pointsPosted.WithLabelValues("expiry"))
	RecordPosting("expiry", -40)
	require.Equal(t, before+40, testutil.ToFloat64(pointsPosted.WithLabelValues("expiry")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	RecordJob("sweep", true, 10*time.Millisecond)
	RecordHTTPRequest("GET", "/v1/leaderboard", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "loyalty_jobs_runs_total"))
	require.True(t, strings.Contains(body, "loyalty_http_requests_total"))
}
