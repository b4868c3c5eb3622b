package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
)

// PaymentController exposes payment creation, verification and lookups.
type PaymentController struct {
	payments *payment.Service
}

func NewPaymentController(payments *payment.Service) *PaymentController {
	return &PaymentController{payments: payments}
}

type updatePaymentStatusRequest struct {
	Status       models.PaymentStatus `json:"status"`
	ErrorCode    string               `json:"error_code"`
	ErrorMessage string               `json:"error_message"`
}

type capturePaymentRequest struct {
	GatewayPaymentRef string `json:"gateway_payment_ref"`
}

// HandleCreatePayment registers a payment intent for an order.
func (pc *PaymentController) HandleCreatePayment(c *fiber.Ctx) error {
	var in payment.CreatePaymentInput
	if err := parseBody(c, &in); err != nil {
		return respondError(c, err)
	}

	p, err := pc.payments.CreatePayment(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// HandleVerifyPayment confirms an online payment with the checkout signature.
func (pc *PaymentController) HandleVerifyPayment(c *fiber.Ctx) error {
	var in payment.ConfirmPaymentInput
	if err := parseBody(c, &in); err != nil {
		return respondError(c, err)
	}

	p, err := pc.payments.ConfirmPayment(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

func (pc *PaymentController) HandleGetPayment(c *fiber.Ctx) error {
	p, err := pc.payments.GetPayment(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

func (pc *PaymentController) HandleGetPaymentByOrder(c *fiber.Ctx) error {
	p, err := pc.payments.GetPaymentByOrder(c.UserContext(), c.Params("orderId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// HandleListPayments lists payments filtered by vendor, buyer and status.
func (pc *PaymentController) HandleListPayments(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	filter := repository.PaymentFilter{
		VendorID: c.Query("vendor_id"),
		BuyerID:  c.Query("buyer_id"),
		Status:   models.PaymentStatus(c.Query("status")),
		Offset:   offset,
		Limit:    limit,
	}

	list, err := pc.payments.ListPayments(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": list, "count": len(list)})
}

func (pc *PaymentController) HandleUpdateStatus(c *fiber.Ctx) error {
	var req updatePaymentStatusRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	p, err := pc.payments.UpdatePaymentStatus(c.UserContext(), c.Params("id"), req.Status, req.ErrorCode, req.ErrorMessage)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// HandleCapturePayment captures an authorized online payment or records a
// cash on delivery collection.
func (pc *PaymentController) HandleCapturePayment(c *fiber.Ctx) error {
	var req capturePaymentRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
	}

	p, err := pc.payments.CapturePayment(c.UserContext(), c.Params("id"), req.GatewayPaymentRef)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}
