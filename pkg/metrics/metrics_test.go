package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStrategy("precise", "won")
		m.RecordResolve("cheap", time.Second)
		m.RecordAlert("manual", "created")
		m.SetLive(1)
		m.RecordFanoutFailure()
		m.RecordAppend("text")
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordAlert("voice", "created")
	m.RecordAlert("voice", "created")
	m.RecordFanoutFailure()
	m.RecordAppend("location_pin")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("voice", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fanoutFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.appendsTotal.WithLabelValues("location_pin")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.Use(MonitorMiddleware(m))
	r.GET("/ping/:id", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping/7", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/ping/:id", "200")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "guardian_http_requests_total")
}
