// Package statistics aggregates payment volume per status for the admin
// dashboard. Results are cached in Redis when a client is given.
package statistics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

const (
	CacheKeySummary = "statistics:payments:summary"
	CacheExpiration = 5 * time.Minute
)

// Summary holds payment totals for the current UTC day and for all time.
type Summary struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Today       []repository.StatusTotal `json:"today"`
	AllTime     []repository.StatusTotal `json:"all_time"`
}

// Collected sums the amount of successful or refunded payments in one currency.
func (s *Summary) Collected(currency string) money.Amount {
	var total money.Amount
	for _, row := range s.AllTime {
		if row.Currency != currency {
			continue
		}
		switch row.Status {
		case models.PaymentStatusSuccess, models.PaymentStatusPartiallyRefunded, models.PaymentStatusRefunded:
			total += row.Amount
		}
	}
	return total
}

type Service struct {
	payments repository.PaymentRepository
	client   *redis.Client
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached *Summary
}

// NewService builds the statistics service. client may be nil, in which case
// the summary is kept in memory for the ttl.
func NewService(payments repository.PaymentRepository, client *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = CacheExpiration
	}
	return &Service{payments: payments, client: client, ttl: ttl, now: time.Now}
}

// Summary returns the cached summary or computes a fresh one.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	if sum, ok := s.load(ctx); ok {
		return sum, nil
	}
	return s.Refresh(ctx)
}

// Refresh recomputes the summary and stores it in the cache.
func (s *Service) Refresh(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	today, err := s.payments.StatusTotals(ctx, startOfDay)
	if err != nil {
		return nil, err
	}
	allTime, err := s.payments.StatusTotals(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	sum := &Summary{GeneratedAt: now, Today: today, AllTime: allTime}
	s.store(ctx, sum)
	return sum, nil
}

// Invalidate drops the cached summary.
func (s *Service) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	if s.client != nil {
		if err := s.client.Del(ctx, CacheKeySummary).Err(); err != nil {
			log.Warnf("[Statistics] Failed to drop cached summary: %v", err)
		}
	}
}

func (s *Service) load(ctx context.Context) (*Summary, bool) {
	if s.client == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cached != nil && s.now().Sub(s.cached.GeneratedAt) < s.ttl {
			return s.cached, true
		}
		return nil, false
	}

	raw, err := s.client.Get(ctx, CacheKeySummary).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Statistics] Failed to read cached summary: %v", err)
		}
		return nil, false
	}
	var sum Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		log.Warnf("[Statistics] Dropping undecodable summary: %v", err)
		return nil, false
	}
	return &sum, true
}

func (s *Service) store(ctx context.Context, sum *Summary) {
	if s.client == nil {
		s.mu.Lock()
		s.cached = sum
		s.mu.Unlock()
		return
	}

	raw, err := json.Marshal(sum)
	if err != nil {
		log.Errorf("[Statistics] Failed to encode summary: %v", err)
		return
	}
	if err := s.client.Set(ctx, CacheKeySummary, raw, s.ttl).Err(); err != nil {
		log.Warnf("[Statistics] Failed to cache summary: %v", err)
	}
}
