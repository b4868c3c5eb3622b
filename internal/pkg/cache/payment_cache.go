package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayFox/app/models"
)

const (
	paymentKeyPrefix      = "payment:id:"
	paymentOrderKeyPrefix = "payment:order:"
)

// PaymentCache is a read-through cache for payment lookups. It is never
// consulted before a state transition; writers invalidate after committing.
type PaymentCache interface {
	Get(ctx context.Context, id string) (*models.Payment, bool)
	GetByOrder(ctx context.Context, orderID string) (*models.Payment, bool)
	// Set caches payment under its id only.
	Set(ctx context.Context, payment *models.Payment)
	// SetLatest caches payment as the latest attempt for its order.
	SetLatest(ctx context.Context, payment *models.Payment)
	Invalidate(ctx context.Context, payment *models.Payment)
}

// RedisPaymentCache stores payments as JSON under id and order keys. The
// order key only ever holds the latest attempt.
type RedisPaymentCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPaymentCache(client *redis.Client, ttl time.Duration) *RedisPaymentCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisPaymentCache{client: client, ttl: ttl}
}

func (c *RedisPaymentCache) Get(ctx context.Context, id string) (*models.Payment, bool) {
	return c.load(ctx, paymentKeyPrefix+id)
}

func (c *RedisPaymentCache) GetByOrder(ctx context.Context, orderID string) (*models.Payment, bool) {
	return c.load(ctx, paymentOrderKeyPrefix+orderID)
}

func (c *RedisPaymentCache) load(ctx context.Context, key string) (*models.Payment, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Cache] Failed to read %s: %v", key, err)
		}
		return nil, false
	}
	var payment models.Payment
	if err := json.Unmarshal(raw, &payment); err != nil {
		log.Warnf("[Cache] Dropping undecodable entry %s: %v", key, err)
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return &payment, true
}

func (c *RedisPaymentCache) Set(ctx context.Context, payment *models.Payment) {
	c.store(ctx, paymentKeyPrefix+payment.ID, payment)
}

func (c *RedisPaymentCache) SetLatest(ctx context.Context, payment *models.Payment) {
	c.store(ctx, paymentOrderKeyPrefix+payment.OrderID, payment)
}

func (c *RedisPaymentCache) store(ctx context.Context, key string, payment *models.Payment) {
	raw, err := json.Marshal(payment)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warnf("[Cache] Failed to cache payment %s: %v", payment.ID, err)
	}
}

func (c *RedisPaymentCache) Invalidate(ctx context.Context, payment *models.Payment) {
	if err := c.client.Del(ctx, paymentKeyPrefix+payment.ID, paymentOrderKeyPrefix+payment.OrderID).Err(); err != nil {
		log.Warnf("[Cache] Failed to invalidate payment %s: %v", payment.ID, err)
	}
}

// NopPaymentCache disables caching.
type NopPaymentCache struct{}

func (NopPaymentCache) Get(context.Context, string) (*models.Payment, bool)        { return nil, false }
func (NopPaymentCache) GetByOrder(context.Context, string) (*models.Payment, bool) { return nil, false }
func (NopPaymentCache) Set(context.Context, *models.Payment)                       {}
func (NopPaymentCache) SetLatest(context.Context, *models.Payment)                 {}
func (NopPaymentCache) Invalidate(context.Context, *models.Payment)                {}
