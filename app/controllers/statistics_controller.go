package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/statistics"
)

type StatisticsController struct {
	stats *statistics.Service
}

func NewStatisticsController(stats *statistics.Service) *StatisticsController {
	return &StatisticsController{stats: stats}
}

// HandlePaymentMetrics returns payment totals per status. refresh=true
// bypasses the cache.
func (sc *StatisticsController) HandlePaymentMetrics(c *fiber.Ctx) error {
	if sc.stats == nil {
		return respondError(c, apperror.NotFound("statistics", nil))
	}

	var (
		sum *statistics.Summary
		err error
	)
	if c.QueryBool("refresh") {
		sum, err = sc.stats.Refresh(c.UserContext())
	} else {
		sum, err = sc.stats.Summary(c.UserContext())
	}
	if err != nil {
		return respondError(c, apperror.Persistence("failed to load payment statistics", err))
	}
	return c.JSON(sum)
}
