package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
)

// QueueStats is the read side of the background job queue.
type QueueStats interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
	GetJob(ctx context.Context, jobID string) (*jobqueue.Job, error)
}

type JobController struct {
	queue QueueStats
}

func NewJobController(queue QueueStats) *JobController {
	return &JobController{queue: queue}
}

// HandleMetrics reports job counters and current queue depth.
func (jc *JobController) HandleMetrics(c *fiber.Ctx) error {
	if jc.queue == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}
	ctx := c.UserContext()

	stats, err := jc.queue.GetJobStats(ctx)
	if err != nil {
		return respondError(c, apperror.Persistence("failed to read job stats", err))
	}
	queued, err := jc.queue.GetQueueSize(ctx)
	if err != nil {
		return respondError(c, apperror.Persistence("failed to read queue size", err))
	}
	processing, err := jc.queue.GetProcessingSize(ctx)
	if err != nil {
		return respondError(c, apperror.Persistence("failed to read processing size", err))
	}

	return c.JSON(fiber.Map{
		"enabled":    true,
		"jobs":       stats,
		"queued":     queued,
		"processing": processing,
	})
}

func (jc *JobController) HandleGetJob(c *fiber.Ctx) error {
	if jc.queue == nil {
		return respondError(c, apperror.NotFound("job", nil))
	}
	job, err := jc.queue.GetJob(c.UserContext(), c.Params("id"))
	if errors.Is(err, redis.Nil) {
		return respondError(c, apperror.NotFound("job", err))
	}
	if err != nil {
		return respondError(c, apperror.Persistence("failed to load job", err))
	}
	return c.JSON(job)
}
