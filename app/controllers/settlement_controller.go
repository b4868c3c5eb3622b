package controllers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/settlement"
)

// SettlementJobs hands long running settlement work to the background queue.
type SettlementJobs interface {
	EnqueueSettlementRun(ctx context.Context, start, end time.Time) (*jobqueue.Job, error)
	EnqueueStatement(ctx context.Context, settlementID string) (*jobqueue.Job, error)
	SettlementWindow() (time.Time, time.Time)
}

// SettlementController exposes vendor settlement batches. Without a job
// queue, runs and archival execute inside the request.
type SettlementController struct {
	batcher *settlement.Batcher
	jobs    SettlementJobs
}

func NewSettlementController(batcher *settlement.Batcher, jobs SettlementJobs) *SettlementController {
	return &SettlementController{batcher: batcher, jobs: jobs}
}

type processSettlementRequest struct {
	BankReference  string `json:"bank_reference"`
	TransferMethod string `json:"transfer_method"`
}

type updateSettlementStatusRequest struct {
	Status models.SettlementStatus `json:"status"`
	Reason string                  `json:"reason"`
}

type settlementNoteRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

type settlementRunRequest struct {
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

// HandleGenerate creates a settlement for one vendor and period.
func (sc *SettlementController) HandleGenerate(c *fiber.Ctx) error {
	var in settlement.GenerateInput
	if err := parseBody(c, &in); err != nil {
		return respondError(c, err)
	}

	s, err := sc.batcher.Generate(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s)
}

// HandleRun settles every eligible vendor. The period defaults to the
// scheduled window.
func (sc *SettlementController) HandleRun(c *fiber.Ctx) error {
	var req settlementRunRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
	}

	start, end := sc.window()
	if req.PeriodStart != nil {
		start = req.PeriodStart.UTC()
	}
	if req.PeriodEnd != nil {
		end = req.PeriodEnd.UTC()
	}
	if !end.After(start) {
		return respondError(c, apperror.Validation(apperror.CodeInvalidInput, "period_end must be after period_start"))
	}

	if sc.jobs != nil {
		job, err := sc.jobs.EnqueueSettlementRun(c.UserContext(), start, end)
		if err != nil {
			return respondError(c, apperror.Persistence("failed to enqueue settlement run", err))
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID, "period_start": start, "period_end": end})
	}

	created, err := sc.batcher.GenerateAll(c.UserContext(), start, end)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"settlements": created, "count": len(created)})
}

func (sc *SettlementController) HandleProcess(c *fiber.Ctx) error {
	var req processSettlementRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	s, err := sc.batcher.ProcessSettlement(c.UserContext(), c.Params("id"), req.BankReference, req.TransferMethod)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s)
}

func (sc *SettlementController) HandleUpdateStatus(c *fiber.Ctx) error {
	var req updateSettlementStatusRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	s, err := sc.batcher.UpdateStatus(c.UserContext(), c.Params("id"), req.Status, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s)
}

func (sc *SettlementController) HandleAddNote(c *fiber.Ctx) error {
	var req settlementNoteRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	note, err := sc.batcher.AddNote(c.UserContext(), c.Params("id"), req.Author, req.Body)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(note)
}

func (sc *SettlementController) HandleGetSettlement(c *fiber.Ctx) error {
	s, err := sc.batcher.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s)
}

func (sc *SettlementController) HandleListSettlements(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	list, err := sc.batcher.List(c.UserContext(), c.Query("vendor_id"), offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"settlements": list, "count": len(list)})
}

func (sc *SettlementController) HandleLineItems(c *fiber.Ctx) error {
	items, err := sc.batcher.LineItems(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"line_items": items, "count": len(items)})
}

// HandleStatement streams the settlement statement as xlsx or pdf.
func (sc *SettlementController) HandleStatement(c *fiber.Ctx) error {
	format := strings.ToLower(c.Query("format", settlement.FormatXLSX))
	if format != settlement.FormatXLSX && format != settlement.FormatPDF {
		return respondError(c, apperror.Validation(apperror.CodeInvalidInput, "format must be xlsx or pdf"))
	}

	s, err := sc.batcher.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	body, contentType, err := settlement.Render(s, format)
	if err != nil {
		return respondError(c, fmt.Errorf("render statement %s: %w", s.ID, err))
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="settlement-%s.%s"`, s.ID, format))
	return c.Send(body)
}

// HandleArchive stores the statement of a completed settlement in object
// storage, through the job queue when one is running.
func (sc *SettlementController) HandleArchive(c *fiber.Ctx) error {
	id := c.Params("id")

	if sc.jobs != nil {
		s, err := sc.batcher.Get(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		if s.Status != models.SettlementStatusCompleted {
			return respondError(c, apperror.InvalidTransition(string(s.Status), "archived"))
		}
		job, err := sc.jobs.EnqueueStatement(c.UserContext(), id)
		if err != nil {
			return respondError(c, apperror.Persistence("failed to enqueue statement archival", err))
		}
		log.Infof("[Settlement] Queued statement archival for %s (job %s)", id, job.ID)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID})
	}

	key, err := sc.batcher.ArchiveStatement(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"statement_key": key})
}

func (sc *SettlementController) window() (time.Time, time.Time) {
	if sc.jobs != nil {
		return sc.jobs.SettlementWindow()
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	return end.Add(-24 * time.Hour), end
}
