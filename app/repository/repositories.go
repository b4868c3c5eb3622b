package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	maxTxAttempts = 3
	txRetryDelay  = 50 * time.Millisecond
)

type transactor struct {
	db *gorm.DB
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Payment:    NewPaymentRepository(db),
		Refund:     NewRefundRepository(db),
		Settlement: NewSettlementRepository(db),
		Webhook:    NewWebhookEventRepository(db),
		tx:         transactor{db: db},
	}
}

func (t transactor) transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(NewRepositories(tx))
		})
		if err == nil || !isRetryableTxError(err) {
			return err
		}
		log.Warnf("[Repository] Transaction attempt %d/%d failed, retrying: %v", attempt, maxTxAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txRetryDelay * time.Duration(attempt)):
		}
	}
	return err
}

func isRetryableTxError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1213 deadlock, 1205 lock wait timeout
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "deadlock")
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
