package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"shop-checkout/internal/config"
	"shop-checkout/internal/handlers"
	"shop-checkout/internal/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type Server struct {
	config   *config.Config
	router   *gin.Engine
	handlers *handlers.Handlers
	httpSrv  *http.Server
	log      logrus.FieldLogger
}

func New(cfg *config.Config, h *handlers.Handlers, m *metrics.Metrics, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	if m != nil {
		router.Use(m.Middleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		log:      log.WithField("component", "server"),
	}
	s.setupRoutes(gatherer)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handlers.Health)
	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(gatherer)))
	}

	order := s.router.Group("/api/shop/order")
	{
		order.POST("/create", s.handlers.CreateOrder)
		order.POST("/capture", s.handlers.CapturePayment)
		order.GET("/list/:userId", s.handlers.ListOrders)
		order.GET("/details/:id", s.handlers.GetOrder)
	}

	if s.handlers.SandboxEnabled() {
		s.router.GET("/sandbox/checkoutnow", s.handlers.SandboxCheckout)
	}
}

// Handler exposes the routed engine for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops; http.ErrServerClosed signals a clean shutdown.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpSrv.Addr).Info("Server listening")
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}
