package handlers

import (
	"shop-checkout/internal/service"

	"github.com/sirupsen/logrus"
)

// Handlers holds the HTTP handlers of the checkout API.
type Handlers struct {
	checkout service.CheckoutService
	orders   service.OrderService
	health   map[string]HealthCheck
	sandbox  *sandboxApproval
	log      logrus.FieldLogger
}

func NewHandlers(
	checkout service.CheckoutService,
	orders service.OrderService,
	health map[string]HealthCheck,
	log logrus.FieldLogger,
) *Handlers {
	useJSONFieldNames()
	return &Handlers{
		checkout: checkout,
		orders:   orders,
		health:   health,
		log:      log.WithField("component", "http"),
	}
}
