package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shop"

type Metrics struct {
	Requests    *prometheus.CounterVec
	LatencyMS   *prometheus.HistogramVec
	Initiated   *prometheus.CounterVec
	Captured    *prometheus.CounterVec
	Reconciled  *prometheus.CounterVec
	GatewayMS   *prometheus.HistogramVec
	StockDenied prometheus.Counter
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Initiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "initiated_total",
			Help:      "Checkout initiations by result.",
		}, []string{"result"}),
		Captured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "captured_total",
			Help:      "Payment captures by result.",
		}, []string{"result"}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "reconciled_orders_total",
			Help:      "Stale orders resolved by the reconciliation worker, by outcome.",
		}, []string{"outcome"}),
		GatewayMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_ms",
			Help:      "Payment gateway call latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"op", "result"}),
		StockDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "insufficient_stock_total",
			Help:      "Captures refused because a product ran out of stock.",
		}),
	}

	reg.MustRegister(m.Requests, m.LatencyMS, m.Initiated, m.Captured, m.Reconciled, m.GatewayMS, m.StockDenied)
	return m
}

// ObserveInitiate, ObserveCapture and friends are nil-safe so components can
// run without metrics.
func (m *Metrics) ObserveInitiate(result string) {
	if m == nil {
		return
	}
	m.Initiated.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCapture(result string) {
	if m == nil {
		return
	}
	m.Captured.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReconciled(outcome string) {
	if m == nil {
		return
	}
	m.Reconciled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGateway(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.GatewayMS.WithLabelValues(op, result).Observe(float64(time.Since(started).Milliseconds()))
}

func (m *Metrics) ObserveStockDenied() {
	if m == nil {
		return
	}
	m.StockDenied.Inc()
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		m.Requests.WithLabelValues(handler, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// Handler serves the exposition for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
