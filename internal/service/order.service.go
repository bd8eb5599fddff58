package service

import (
	"context"

	"shop-checkout/internal/cache"
	"shop-checkout/internal/domain"
	"shop-checkout/internal/repo"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type OrderService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// ListByUser returns the user's orders newest first. A user without
	// orders gets an empty slice.
	ListByUser(ctx context.Context, userID string) ([]*domain.Order, error)
}

type orderService struct {
	orderRepo repo.OrderRepo
	cache     cache.OrderCache
	log       logrus.FieldLogger
}

// NewOrderService reads through orderCache when it is not nil.
func NewOrderService(orderRepo repo.OrderRepo, orderCache cache.OrderCache, log logrus.FieldLogger) OrderService {
	return &orderService{
		orderRepo: orderRepo,
		cache:     orderCache,
		log:       log.WithField("component", "orders"),
	}
}

func (s *orderService) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id)
		if err != nil {
			s.log.WithFields(logrus.Fields{"order_id": id, "error": err.Error()}).Warn("Order cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	order, err := s.orderRepo.Get(ctx, id)
	if err != nil {
		return nil, domain.Persistence("get order", err)
	}

	// a pending order may be confirmed between this read and the write below
	if s.cache != nil && order.IsSettled() {
		if err := s.cache.Set(ctx, order); err != nil {
			s.log.WithFields(logrus.Fields{"order_id": id, "error": err.Error()}).Warn("Order cache write failed")
		}
	}
	return order, nil
}

func (s *orderService) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "userId", Reason: "is required"}
	}

	if s.cache != nil {
		cached, err := s.cache.GetByUser(ctx, userID)
		if err != nil {
			s.log.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Warn("Order cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	orders, err := s.orderRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.Persistence("list orders", err)
	}

	if s.cache != nil && len(orders) > 0 && allSettled(orders) {
		if err := s.cache.SetByUser(ctx, userID, orders); err != nil {
			s.log.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Warn("Order cache write failed")
		}
	}
	return orders, nil
}

func allSettled(orders []*domain.Order) bool {
	for _, o := range orders {
		if !o.IsSettled() {
			return false
		}
	}
	return true
}
