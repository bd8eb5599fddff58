package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"shop-checkout/internal/config"
	"shop-checkout/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	orderKeyPrefix   = "order:"
	userOrdersPrefix = "user_orders:"
	defaultTTL       = 5 * time.Minute
)

// OrderCache holds order documents keyed by id and per-user order lists.
// A miss is reported as (nil, nil).
type OrderCache interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Set(ctx context.Context, order *domain.Order) error
	GetByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	SetByUser(ctx context.Context, userID string, orders []*domain.Order) error
	// Invalidate drops the order and its owner's list.
	Invalidate(ctx context.Context, order *domain.Order) error
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

type redisOrderCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewRedisOrderCache(client redis.UniversalClient, ttl time.Duration, log logrus.FieldLogger) OrderCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisOrderCache{
		client: client,
		ttl:    ttl,
		log:    log.WithField("component", "order_cache"),
	}
}

func (c *redisOrderCache) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	data, err := c.client.Get(ctx, orderKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		c.log.WithField("order_id", id).Debug("Cache miss")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var order domain.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	c.log.WithField("order_id", id).Debug("Cache hit")
	return &order, nil
}

func (c *redisOrderCache) Set(ctx context.Context, order *domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, orderKeyPrefix+order.ID.String(), data, c.ttl).Err()
}

func (c *redisOrderCache) GetByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	data, err := c.client.Get(ctx, userOrdersPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, 0)
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *redisOrderCache) SetByUser(ctx context.Context, userID string, orders []*domain.Order) error {
	data, err := json.Marshal(orders)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, userOrdersPrefix+userID, data, c.ttl).Err()
}

func (c *redisOrderCache) Invalidate(ctx context.Context, order *domain.Order) error {
	return c.client.Del(ctx, orderKeyPrefix+order.ID.String(), userOrdersPrefix+order.UserID).Err()
}

// Health pings redis and reports in the same shape as database.Health.
func Health(ctx context.Context, client redis.UniversalClient) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return map[string]string{"status": "down", "error": err.Error()}
	}
	return map[string]string{"status": "up", "message": "It's healthy"}
}
