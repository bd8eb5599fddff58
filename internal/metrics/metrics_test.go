package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveInitiate("ok")
	m.ObserveInitiate("ok")
	m.ObserveCapture("insufficient_stock")
	m.ObserveReconciled("finalized")
	m.ObserveStockDenied()
	m.ObserveGateway("capture", time.Now(), errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Initiated.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Captured.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconciled.WithLabelValues("finalized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockDenied))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewayMS))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveInitiate("ok")
		m.ObserveCapture("ok")
		m.ObserveReconciled("expired")
		m.ObserveGateway("capture", time.Now(), nil)
		m.ObserveStockDenied()
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(Handler(reg)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/ping", "200")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "shop_checkout_http_requests_total"))
}
