package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shop-checkout/internal/config"
	"shop-checkout/internal/handlers"
	"shop-checkout/internal/infrastructure/payment"
	"shop-checkout/internal/metrics"
	"shop-checkout/internal/repo/memstore"
	"shop-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newServerWithGateway(t, false)
}

func newServerWithGateway(t *testing.T, sandbox bool) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()

	store := memstore.New()
	gw := payment.NewSandboxGateway(log)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Orders:   store.Orders(),
		Products: store.Products(),
		Carts:    store.Carts(),
		Tx:       store,
		Gateway:  gw,
		Log:      log,
	}, config.CheckoutConfig{Currency: "USD", GatewayTimeout: time.Second})
	orders := service.NewOrderService(store.Orders(), nil, log)
	h := handlers.NewHandlers(checkout, orders, map[string]handlers.HealthCheck{
		"database": func(context.Context) map[string]string { return map[string]string{"status": "up"} },
	}, log)
	if sandbox {
		h.WithSandbox(gw, "http://localhost:5173/shop/paypal-return")
	}

	reg := prometheus.NewRegistry()
	cfg := &config.Config{Server: config.ServerConfig{Port: 0, AllowedOrigins: []string{"http://localhost:5173"}}}
	return New(cfg, h, metrics.New(reg), reg, log)
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/shop/order/list/u1", http.StatusOK},
		{http.MethodGet, "/api/shop/order/details/not-a-uuid", http.StatusBadRequest},
		{http.MethodPost, "/api/shop/order/create", http.StatusBadRequest},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, w.Code, tt.method+" "+tt.path)
	}

	// counters from the calls above are exported
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shop_checkout_http_requests_total")
}

func TestSandboxRoute_OnlyWithSandboxGateway(t *testing.T) {
	w := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sandbox/checkoutnow?token=SBX-1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	newServerWithGateway(t, true).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sandbox/checkoutnow", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/shop/order/create", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
