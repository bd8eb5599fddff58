package handlers

import (
	"net/http"

	"shop-checkout/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ListOrders handles GET /api/shop/order/list/:userId
func (h *Handlers) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": orders})
}

// GetOrder handles GET /api/shop/order/details/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, &domain.ValidationError{Field: "id", Reason: "must be a valid order id"})
		return
	}

	order, err := h.orders.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
}
