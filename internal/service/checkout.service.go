package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-checkout/internal/cache"
	"shop-checkout/internal/config"
	"shop-checkout/internal/database"
	"shop-checkout/internal/domain"
	"shop-checkout/internal/events"
	"shop-checkout/internal/infrastructure/payment"
	"shop-checkout/internal/metrics"
	"shop-checkout/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultGatewayTimeout = 10 * time.Second

type CheckoutService interface {
	// Initiate persists a pending order and opens a remote payment for it.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	// Capture collects the approved payment and confirms the order.
	Capture(ctx context.Context, req CaptureRequest) (*domain.Order, error)
	// Finalize confirms an order whose payment is already captured remotely.
	Finalize(ctx context.Context, orderID uuid.UUID, paymentID, payerID string) (*domain.Order, error)
	// Expire moves a pending order to failed.
	Expire(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}

type InitiateRequest struct {
	UserID        string
	CartID        string
	CartItems     []domain.LineItem
	AddressInfo   domain.Address
	TotalAmount   decimal.Decimal
	PaymentMethod string
	OrderDate     time.Time
}

// Validate rejects requests that must not create an order.
func (r InitiateRequest) Validate() error {
	if r.UserID == "" {
		return &domain.ValidationError{Field: "userId", Reason: "is required"}
	}
	if r.CartID == "" {
		return &domain.ValidationError{Field: "cartId", Reason: "is required"}
	}
	if len(r.CartItems) == 0 {
		return &domain.ValidationError{Field: "cartItems", Reason: "must contain at least one item"}
	}
	for i, item := range r.CartItems {
		field := fmt.Sprintf("cartItems[%d]", i)
		switch {
		case item.ProductID == "":
			return &domain.ValidationError{Field: field + ".productId", Reason: "is required"}
		case item.Title == "":
			return &domain.ValidationError{Field: field + ".title", Reason: "is required"}
		case item.Quantity <= 0:
			return &domain.ValidationError{Field: field + ".quantity", Reason: "must be greater than zero"}
		case item.Price.IsNegative():
			return &domain.ValidationError{Field: field + ".price", Reason: "must not be negative"}
		case !item.Price.Equal(item.Price.Round(2)):
			return &domain.ValidationError{Field: field + ".price", Reason: "must have at most two decimal places"}
		}
	}
	if !r.TotalAmount.IsPositive() {
		return &domain.ValidationError{Field: "totalAmount", Reason: "must be greater than zero"}
	}
	if r.PaymentMethod != domain.PaymentMethodPayPal {
		return &domain.ValidationError{Field: "paymentMethod", Reason: "must be " + domain.PaymentMethodPayPal}
	}
	if sum := domain.ItemsTotal(r.CartItems); !sum.Round(2).Equal(r.TotalAmount.Round(2)) {
		return &domain.ValidationError{
			Field:  "totalAmount",
			Reason: fmt.Sprintf("does not match the item total %s", sum.StringFixed(2)),
		}
	}
	return nil
}

type InitiateResult struct {
	ApprovalURL string
	OrderID     uuid.UUID
}

type CaptureRequest struct {
	OrderID   uuid.UUID
	PaymentID string
	PayerID   string
}

func (r CaptureRequest) Validate() error {
	if r.OrderID == uuid.Nil {
		return &domain.ValidationError{Field: "orderId", Reason: "is required"}
	}
	if r.PaymentID == "" {
		return &domain.ValidationError{Field: "paymentId", Reason: "is required"}
	}
	return nil
}

// BuildIntentRequest maps an order onto the gateway's intent request. The
// order id is the reference that ties the remote payment back to the order.
func BuildIntentRequest(order *domain.Order, cfg config.CheckoutConfig) payment.IntentRequest {
	items := make([]payment.Item, 0, len(order.CartItems))
	for _, item := range order.CartItems {
		items = append(items, payment.Item{
			Name:       item.Title,
			SKU:        item.ProductID,
			UnitAmount: item.Price.StringFixed(2),
			Quantity:   item.Quantity,
		})
	}
	return payment.IntentRequest{
		ReferenceID:        order.ID.String(),
		Currency:           cfg.Currency,
		Amount:             order.TotalAmount.StringFixed(2),
		ItemTotal:          domain.ItemsTotal(order.CartItems).StringFixed(2),
		Items:              items,
		ReturnURL:          cfg.ReturnURL,
		CancelURL:          cfg.CancelURL,
		ShippingPreference: payment.ShippingNoShipping,
	}
}

// CheckoutDeps are the collaborators of the checkout service. Cache, Events
// and Metrics are optional.
type CheckoutDeps struct {
	Orders   repo.OrderRepo
	Products repo.ProductRepo
	Carts    repo.CartRepo
	Tx       database.Transactor
	Gateway  payment.Gateway
	Cache    cache.OrderCache
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger
}

type checkoutService struct {
	orders   repo.OrderRepo
	products repo.ProductRepo
	carts    repo.CartRepo
	tx       database.Transactor
	gateway  payment.Gateway
	cache    cache.OrderCache
	events   events.Publisher
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	cfg      config.CheckoutConfig
	now      func() time.Time
}

func NewCheckoutService(deps CheckoutDeps, cfg config.CheckoutConfig) CheckoutService {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &checkoutService{
		orders:   deps.Orders,
		products: deps.Products,
		carts:    deps.Carts,
		tx:       deps.Tx,
		gateway:  deps.Gateway,
		cache:    deps.Cache,
		events:   publisher,
		metrics:  deps.Metrics,
		log:      log.WithField("component", "checkout"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *checkoutService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := req.Validate(); err != nil {
		s.metrics.ObserveInitiate("invalid")
		return nil, err
	}

	order := domain.NewPendingOrder(req.UserID, req.CartID, req.CartItems, req.AddressInfo,
		req.TotalAmount, req.PaymentMethod, req.OrderDate)
	if err := s.orders.Create(ctx, order); err != nil {
		s.metrics.ObserveInitiate("error")
		return nil, domain.Persistence("create order", err)
	}
	log := s.log.WithFields(logrus.Fields{"order_id": order.ID, "user_id": order.UserID})

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	started := time.Now()
	intent, err := s.gateway.CreateIntent(gctx, BuildIntentRequest(order, s.cfg))
	cancel()
	s.metrics.ObserveGateway("create_intent", started, err)
	if err != nil {
		log.WithField("error", err.Error()).Error("Payment initiation failed, discarding order")
		s.discard(ctx, order.ID, log)
		s.metrics.ObserveInitiate("gateway_error")
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayInitiation, err)
	}

	order.PaymentID = intent.ID
	order.OrderUpdateDate = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		log.WithField("error", err.Error()).Error("Saving payment id failed, discarding order")
		s.discard(ctx, order.ID, log)
		s.metrics.ObserveInitiate("error")
		return nil, domain.Persistence("save payment id", err)
	}

	s.invalidate(ctx, order)
	s.publish(ctx, events.EventOrderCreated, order)
	s.metrics.ObserveInitiate("ok")
	log.WithField("payment_id", intent.ID).Info("Checkout initiated")

	return &InitiateResult{ApprovalURL: intent.ApprovalURL, OrderID: order.ID}, nil
}

// discard is the compensating delete for an order whose payment never
// started. It survives a cancelled request context.
func (s *checkoutService) discard(ctx context.Context, id uuid.UUID, log logrus.FieldLogger) {
	if err := s.orders.Delete(context.WithoutCancel(ctx), id); err != nil {
		log.WithField("error", err.Error()).Error("Failed to discard pending order")
	}
}

func (s *checkoutService) Capture(ctx context.Context, req CaptureRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		s.metrics.ObserveCapture("invalid")
		return nil, err
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		s.metrics.ObserveCapture("not_found")
		return nil, domain.Persistence("load order", err)
	}
	log := s.log.WithFields(logrus.Fields{"order_id": order.ID, "payment_id": req.PaymentID})

	if order.IsConfirmed() {
		log.Info("Order already confirmed, nothing to capture")
		s.metrics.ObserveCapture("duplicate")
		return order, nil
	}
	if !order.IsPending() {
		s.metrics.ObserveCapture("not_pending")
		return nil, domain.ErrOrderNotPending
	}
	if order.PaymentID != "" && order.PaymentID != req.PaymentID {
		s.metrics.ObserveCapture("invalid")
		return nil, &domain.ValidationError{Field: "paymentId", Reason: "does not belong to this order"}
	}

	// refuse before any money moves
	if err := s.checkStock(ctx, order); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.ObserveStockDenied()
			s.metrics.ObserveCapture("insufficient_stock")
		}
		log.WithField("error", err.Error()).Warn("Capture refused by stock check")
		return nil, err
	}

	captured, err := s.captureRemote(ctx, req.PaymentID)
	if err != nil {
		log.WithField("error", err.Error()).Error("Payment capture failed, order stays pending")
		s.metrics.ObserveCapture("gateway_error")
		return nil, fmt.Errorf("%w: %w", domain.ErrPaymentCapture, err)
	}

	payerID := captured.PayerID
	if payerID == "" {
		payerID = req.PayerID
	}
	return s.Finalize(ctx, order.ID, req.PaymentID, payerID)
}

// checkStock is a read-only pass over the snapshot. Reserve repeats the check
// atomically inside finalize.
func (s *checkoutService) checkStock(ctx context.Context, order *domain.Order) error {
	wanted := make(map[string]int, len(order.CartItems))
	for _, item := range order.CartItems {
		wanted[item.ProductID] += item.Quantity
	}
	for _, item := range order.CartItems {
		qty, ok := wanted[item.ProductID]
		if !ok {
			continue
		}
		delete(wanted, item.ProductID)

		product, err := s.products.Get(ctx, item.ProductID)
		if err != nil {
			return domain.Persistence("load product", err)
		}
		if product.TotalStock < qty {
			return &domain.InsufficientStockError{
				ProductID: product.ID,
				Title:     product.Title,
				Requested: qty,
				Available: product.TotalStock,
			}
		}
	}
	return nil
}

// captureRemote captures under the gateway timeout. A capture the provider
// already completed counts as success.
func (s *checkoutService) captureRemote(ctx context.Context, paymentID string) (*payment.Capture, error) {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	started := time.Now()
	captured, err := s.gateway.Capture(gctx, paymentID)
	s.metrics.ObserveGateway("capture", started, err)
	if err == nil {
		return captured, nil
	}
	if !errors.Is(err, payment.ErrAlreadyCaptured) {
		return nil, err
	}

	intent, lerr := s.gateway.Lookup(gctx, paymentID)
	if lerr != nil {
		return nil, err
	}
	if intent.Status != payment.IntentCompleted {
		return nil, err
	}
	return &payment.Capture{ID: intent.ID, Status: intent.Status, PayerID: intent.PayerID}, nil
}

func (s *checkoutService) Finalize(ctx context.Context, orderID uuid.UUID, paymentID, payerID string) (*domain.Order, error) {
	log := s.log.WithFields(logrus.Fields{"order_id": orderID, "payment_id": paymentID})

	var (
		order     *domain.Order
		duplicate bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		// a concurrent capture got here first
		if current.IsConfirmed() {
			order, duplicate = current, true
			return nil
		}
		if !current.IsPending() {
			return domain.ErrOrderNotPending
		}

		// all-or-nothing: any failure rolls back every earlier decrement
		for _, item := range current.CartItems {
			if err := s.products.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if err := current.Confirm(paymentID, payerID, s.now()); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrProductNotFound) {
			if errors.Is(err, domain.ErrInsufficientStock) {
				s.metrics.ObserveStockDenied()
			}
			return nil, s.hold(ctx, orderID, paymentID, payerID, err, log)
		}
		s.metrics.ObserveCapture("finalize_error")
		log.WithField("error", err.Error()).Error("Payment captured but order could not be confirmed")
		return nil, domain.Persistence("finalize order", err)
	}
	if duplicate {
		s.metrics.ObserveCapture("duplicate")
		return order, nil
	}

	if err := s.carts.Delete(ctx, order.CartID); err != nil {
		log.WithFields(logrus.Fields{"cart_id": order.CartID, "error": err.Error()}).Warn("Failed to delete cart of confirmed order")
	}
	s.invalidate(ctx, order)
	s.publish(ctx, events.EventOrderConfirmed, order)
	s.metrics.ObserveCapture("ok")
	log.WithField("payer_id", order.PayerID).Info("Order confirmed")

	return order, nil
}

// hold parks an order whose payment is captured but whose items can no
// longer be reserved. A held order leaves the pending scan and waits for a
// refund or manual fulfilment.
func (s *checkoutService) hold(ctx context.Context, orderID uuid.UUID, paymentID, payerID string, cause error, log logrus.FieldLogger) error {
	ctx = context.WithoutCancel(ctx)

	var order *domain.Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := current.Hold(paymentID, payerID, s.now()); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		s.metrics.ObserveCapture("finalize_error")
		log.WithFields(logrus.Fields{"cause": cause.Error(), "error": err.Error()}).Error("Payment captured but order could be neither confirmed nor held")
		return domain.Persistence("hold order", err)
	}

	s.invalidate(ctx, order)
	s.publish(ctx, events.EventOrderOnHold, order)
	s.metrics.ObserveCapture("on_hold")
	log.WithField("cause", cause.Error()).Error("Payment captured but order cannot be fulfilled, order put on hold")
	return fmt.Errorf("%w: %w", domain.ErrOrderOnHold, cause)
}

func (s *checkoutService) Expire(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	var order *domain.Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := current.Fail(s.now()); err != nil {
			return err
		}
		if err := s.orders.Update(ctx, current); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("expire order", err)
	}

	s.invalidate(ctx, order)
	s.publish(ctx, events.EventOrderFailed, order)
	s.log.WithField("order_id", orderID).Info("Order expired")
	return order, nil
}

func (s *checkoutService) invalidate(ctx context.Context, order *domain.Order) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, order); err != nil {
		s.log.WithFields(logrus.Fields{"order_id": order.ID, "error": err.Error()}).Warn("Failed to invalidate cached order")
	}
}

func (s *checkoutService) publish(ctx context.Context, eventType events.EventType, order *domain.Order) {
	if err := s.events.Publish(ctx, eventType, order); err != nil {
		s.log.WithFields(logrus.Fields{
			"order_id":   order.ID,
			"event_type": eventType,
			"error":      err.Error(),
		}).Warn("Failed to publish order event")
	}
}
