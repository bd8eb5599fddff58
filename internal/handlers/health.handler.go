package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports the state of one dependency. A "status" of "down"
// marks the service unhealthy.
type HealthCheck func(ctx context.Context) map[string]string

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{}
	for name, check := range h.health {
		stats := check(c.Request.Context())
		if stats["status"] == "down" {
			status = http.StatusServiceUnavailable
		}
		body[name] = stats
	}
	c.JSON(status, body)
}
