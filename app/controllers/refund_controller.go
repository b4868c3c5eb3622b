package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
)

type RefundController struct {
	payments *payment.Service
}

func NewRefundController(payments *payment.Service) *RefundController {
	return &RefundController{payments: payments}
}

type updateRefundStatusRequest struct {
	Status       models.RefundStatus `json:"status"`
	ErrorMessage string              `json:"error_message"`
}

// HandleCreateRefund issues a refund against a successful payment. A zero
// amount refunds the remaining balance.
func (rc *RefundController) HandleCreateRefund(c *fiber.Ctx) error {
	var in payment.CreateRefundInput
	if err := parseBody(c, &in); err != nil {
		return respondError(c, err)
	}

	r, err := rc.payments.CreateRefund(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func (rc *RefundController) HandleGetRefund(c *fiber.Ctx) error {
	r, err := rc.payments.GetRefund(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(r)
}

func (rc *RefundController) HandleListByPayment(c *fiber.Ctx) error {
	list, err := rc.payments.ListRefunds(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"refunds": list, "count": len(list)})
}

// HandleSyncRefund pulls the refund state from the gateway.
func (rc *RefundController) HandleSyncRefund(c *fiber.Ctx) error {
	r, err := rc.payments.SyncRefund(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(r)
}

func (rc *RefundController) HandleUpdateStatus(c *fiber.Ctx) error {
	var req updateRefundStatusRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	r, err := rc.payments.UpdateRefundStatus(c.UserContext(), c.Params("id"), req.Status, req.ErrorMessage)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(r)
}
