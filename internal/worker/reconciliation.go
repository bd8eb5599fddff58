package worker

import (
	"context"
	"errors"
	"time"

	"shop-checkout/internal/config"
	"shop-checkout/internal/domain"
	"shop-checkout/internal/infrastructure/payment"
	"shop-checkout/internal/metrics"
	"shop-checkout/internal/repo"
	"shop-checkout/internal/service"

	"github.com/sirupsen/logrus"
)

const lookupTimeout = 10 * time.Second

// ReconciliationWorker resolves orders left pending by an interrupted
// checkout. The gateway is the source of truth: a payment it completed
// confirms the order, anything it dropped or never saw fails it.
type ReconciliationWorker struct {
	orderRepo repo.OrderRepo
	checkout  service.CheckoutService
	gateway   payment.Gateway
	cfg       config.ReconciliationConfig
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

type Summary struct {
	Finalized int
	Expired   int
	Waiting   int
	Skipped   int
	OnHold    int
	Failed    int
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	checkout service.CheckoutService,
	gateway payment.Gateway,
	cfg config.ReconciliationConfig,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) *ReconciliationWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &ReconciliationWorker{
		orderRepo: orderRepo,
		checkout:  checkout,
		gateway:   gateway,
		cfg:       cfg,
		metrics:   m,
		log:       log.WithField("component", "reconciliation"),
		now:       time.Now,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.cfg.Interval)
	defer ticker.Stop()

	rw.log.WithField("interval", rw.cfg.Interval.String()).Info("Reconciliation worker started")

	for {
		select {
		case <-ctx.Done():
			rw.log.Info("Reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.RunOnce(ctx); err != nil {
				rw.log.WithField("error", err.Error()).Error("Reconciliation failed")
			}
		}
	}
}

// RunOnce processes one batch of stale pending orders.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	stale, err := rw.orderRepo.FindStale(ctx, rw.cfg.StaleAfter, rw.cfg.BatchSize)
	if err != nil {
		return sum, err
	}
	if len(stale) == 0 {
		return sum, nil
	}

	rw.log.WithField("count", len(stale)).Info("Found stale pending orders")

	for _, order := range stale {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		outcome := rw.resolve(ctx, order)
		rw.metrics.ObserveReconciled(outcome)
		switch outcome {
		case "finalized":
			sum.Finalized++
		case "expired":
			sum.Expired++
		case "waiting":
			sum.Waiting++
		case "skipped":
			sum.Skipped++
		case "on_hold":
			sum.OnHold++
		default:
			sum.Failed++
		}
	}
	return sum, nil
}

func (rw *ReconciliationWorker) resolve(ctx context.Context, order *domain.Order) string {
	log := rw.log.WithFields(logrus.Fields{"order_id": order.ID, "payment_id": order.PaymentID})

	// payment never started
	if order.PaymentID == "" {
		return rw.expire(ctx, order, log, "no payment id")
	}

	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	intent, err := rw.gateway.Lookup(lctx, order.PaymentID)
	cancel()
	if err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			return rw.expire(ctx, order, log, "payment unknown to gateway")
		}
		log.WithFields(logrus.Fields{
			"error":     err.Error(),
			"transient": payment.IsTransient(err),
		}).Warn("Payment lookup failed, retrying next tick")
		return "skipped"
	}

	switch intent.Status {
	case payment.IntentCompleted:
		if _, err := rw.checkout.Finalize(ctx, order.ID, order.PaymentID, intent.PayerID); err != nil {
			switch {
			case errors.Is(err, domain.ErrOrderOnHold):
				// out of the pending scan, needs a refund or manual fulfilment
				log.WithField("error", err.Error()).Error("Captured payment cannot be fulfilled, order put on hold")
				return "on_hold"
			case errors.Is(err, domain.ErrOrderNotPending), errors.Is(err, domain.ErrOrderNotFound):
				return "skipped"
			}
			log.WithField("error", err.Error()).Error("Captured payment could not be reconciled")
			return "error"
		}
		log.Warn("Recovered order whose payment was captured without confirmation")
		return "finalized"
	case payment.IntentVoided:
		return rw.expire(ctx, order, log, "payment voided")
	}

	if rw.cfg.AbandonAfter > 0 && rw.now().Sub(order.OrderUpdateDate) > rw.cfg.AbandonAfter {
		return rw.expire(ctx, order, log, "payment abandoned")
	}
	return "waiting"
}

func (rw *ReconciliationWorker) expire(ctx context.Context, order *domain.Order, log logrus.FieldLogger, reason string) string {
	if _, err := rw.checkout.Expire(ctx, order.ID); err != nil {
		if errors.Is(err, domain.ErrOrderNotPending) || errors.Is(err, domain.ErrOrderNotFound) {
			return "skipped"
		}
		log.WithField("error", err.Error()).Error("Failed to expire order")
		return "error"
	}
	log.WithField("reason", reason).Info("Expired stale order")
	return "expired"
}
