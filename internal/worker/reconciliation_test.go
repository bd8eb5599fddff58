package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shop-checkout/internal/config"
	"shop-checkout/internal/domain"
	"shop-checkout/internal/infrastructure/payment"
	"shop-checkout/internal/metrics"
	"shop-checkout/internal/repo/memstore"
	"shop-checkout/internal/service"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *memstore.Store
	gw       *payment.SandboxGateway
	checkout service.CheckoutService
	worker   *ReconciliationWorker
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	h := &harness{
		store:   memstore.New(),
		gw:      payment.NewSandboxGateway(log),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	h.checkout = service.NewCheckoutService(service.CheckoutDeps{
		Orders:   h.store.Orders(),
		Products: h.store.Products(),
		Carts:    h.store.Carts(),
		Tx:       h.store,
		Gateway:  h.gw,
		Log:      log,
	}, config.CheckoutConfig{Currency: "USD", GatewayTimeout: time.Second})
	h.worker = NewReconciliationWorker(h.store.Orders(), h.checkout, h.gw, config.ReconciliationConfig{
		Interval:     10 * time.Millisecond,
		StaleAfter:   10 * time.Minute,
		AbandonAfter: 3 * time.Hour,
		BatchSize:    10,
	}, h.metrics, log)

	require.NoError(t, h.store.Products().Save(context.Background(), &domain.Product{ID: "p1", Title: "Mug", TotalStock: 3}))
	return h
}

// initiate opens a checkout for one mug and backdates it by idle.
func (h *harness) initiate(t *testing.T, cartID string, idle time.Duration) *domain.Order {
	t.Helper()
	return h.initiateFor(t, cartID, domain.LineItem{ProductID: "p1", Title: "Mug", Price: decimal.NewFromInt(4), Quantity: 1}, idle)
}

func (h *harness) initiateFor(t *testing.T, cartID string, item domain.LineItem, idle time.Duration) *domain.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.Carts().Save(ctx, &domain.Cart{ID: cartID, UserID: "u1"}))
	res, err := h.checkout.Initiate(ctx, service.InitiateRequest{
		UserID:        "u1",
		CartID:        cartID,
		CartItems:     []domain.LineItem{item},
		TotalAmount:   item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		PaymentMethod: domain.PaymentMethodPayPal,
	})
	require.NoError(t, err)
	h.store.Orders().Touch(res.OrderID, time.Now().Add(-idle))
	order, err := h.store.Orders().Get(ctx, res.OrderID)
	require.NoError(t, err)
	return order
}

func (h *harness) status(t *testing.T, id uuid.UUID) domain.OrderStatus {
	t.Helper()
	order, err := h.store.Orders().Get(context.Background(), id)
	require.NoError(t, err)
	return order.OrderStatus
}

func TestRunOnce_ResolvesStaleOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// phantom charge: captured remotely, never confirmed locally
	phantom := h.initiate(t, "c-phantom", time.Hour)
	require.NoError(t, h.gw.Approve(phantom.PaymentID, "PAYER-1"))
	_, err := h.gw.Capture(ctx, phantom.PaymentID)
	require.NoError(t, err)

	voided := h.initiate(t, "c-voided", time.Hour)
	require.NoError(t, h.gw.Void(voided.PaymentID))

	waiting := h.initiate(t, "c-waiting", time.Hour)
	abandoned := h.initiate(t, "c-abandoned", 4*time.Hour)
	fresh := h.initiate(t, "c-fresh", 0)

	orphan := domain.NewPendingOrder("u1", "c-orphan", nil, domain.Address{}, decimal.NewFromInt(4), domain.PaymentMethodPayPal, time.Time{})
	require.NoError(t, h.store.Orders().Create(ctx, orphan))
	h.store.Orders().Touch(orphan.ID, time.Now().Add(-time.Hour))

	sum, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Finalized: 1, Expired: 3, Waiting: 1}, sum)

	assert.Equal(t, domain.OrderConfirmed, h.status(t, phantom.ID))
	assert.Equal(t, domain.OrderFailed, h.status(t, voided.ID))
	assert.Equal(t, domain.OrderPending, h.status(t, waiting.ID))
	assert.Equal(t, domain.OrderFailed, h.status(t, abandoned.ID))
	assert.Equal(t, domain.OrderPending, h.status(t, fresh.ID))
	assert.Equal(t, domain.OrderFailed, h.status(t, orphan.ID))

	recovered, _ := h.store.Orders().Get(ctx, phantom.ID)
	assert.Equal(t, "PAYER-1", recovered.PayerID)
	stock, _ := h.store.Products().GetStock(ctx, "p1")
	assert.Equal(t, 2, stock)
	_, err = h.store.Carts().Get(ctx, "c-phantom")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Reconciled.WithLabelValues("finalized")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Reconciled.WithLabelValues("expired")))
}

// capture completes the remote payment without telling the shop.
func (h *harness) capture(t *testing.T, order *domain.Order) {
	t.Helper()
	require.NoError(t, h.gw.Approve(order.PaymentID, "PAYER-1"))
	_, err := h.gw.Capture(context.Background(), order.PaymentID)
	require.NoError(t, err)
}

func TestRunOnce_UnfulfillableCapturesDoNotBlockTheQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// a full batch of captured mugs that sold out in the meantime
	stuck := make([]*domain.Order, 0, 10)
	for i := 0; i < 10; i++ {
		order := h.initiate(t, fmt.Sprintf("c-stuck-%d", i), 2*time.Hour+time.Duration(i)*time.Minute)
		h.capture(t, order)
		stuck = append(stuck, order)
	}
	require.NoError(t, h.store.Products().Save(ctx, &domain.Product{ID: "p1", Title: "Mug", TotalStock: 0}))

	// a newer phantom charge that can still be fulfilled
	require.NoError(t, h.store.Products().Save(ctx, &domain.Product{ID: "p2", Title: "Plate", TotalStock: 1}))
	recoverable := h.initiateFor(t, "c-plate", domain.LineItem{ProductID: "p2", Title: "Plate", Price: decimal.NewFromInt(6), Quantity: 1}, time.Hour)
	h.capture(t, recoverable)

	sum, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{OnHold: 10}, sum)
	for _, order := range stuck {
		got, err := h.store.Orders().Get(ctx, order.ID)
		require.NoError(t, err)
		assert.True(t, got.IsOnHold())
	}

	sum, err = h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Finalized: 1}, sum)
	assert.Equal(t, domain.OrderConfirmed, h.status(t, recoverable.ID))

	sum, err = h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Equal(t, 10.0, testutil.ToFloat64(h.metrics.Reconciled.WithLabelValues("on_hold")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Reconciled.WithLabelValues("error")))
}

func TestRunOnce_TransientLookupSkips(t *testing.T) {
	h := newHarness(t)
	order := h.initiate(t, "c1", time.Hour)
	h.gw.SetLookupError(&payment.GatewayError{Op: "lookup", StatusCode: 503, Transient: true})

	sum, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, domain.OrderPending, h.status(t, order.ID))
}

func TestRunOnce_UnknownPaymentExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.initiate(t, "c1", time.Hour)

	stored, _ := h.store.Orders().Get(ctx, order.ID)
	stored.PaymentID = "NOT-AT-GATEWAY"
	stored.OrderUpdateDate = time.Now().Add(-time.Hour)
	require.NoError(t, h.store.Orders().Update(ctx, stored))

	sum, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Expired)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.initiate(t, "c1", 4*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Reconciled.WithLabelValues("expired")) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
