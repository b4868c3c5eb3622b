package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/constants"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

// WebhookController receives gateway callbacks and exposes the operator
// replay and metrics endpoints.
type WebhookController struct {
	ingestor *webhook.Ingestor
	gateway  string
}

func NewWebhookController(ingestor *webhook.Ingestor, gatewayName string) *WebhookController {
	return &WebhookController{ingestor: ingestor, gateway: gatewayName}
}

// HandleWebhook stores and applies one delivery. Any stored delivery is
// acknowledged with 200, even when applying it failed; only a delivery we
// could not store is answered with 5xx so the gateway retries it.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	if c.Params("gateway") != wc.gateway {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown gateway"})
	}

	// BodyRaw is the exact payload the signature was computed over.
	body := append([]byte(nil), c.BodyRaw()...)

	res, err := wc.ingestor.Ingest(c.UserContext(), webhook.Delivery{
		Gateway:   wc.gateway,
		Body:      body,
		Signature: c.Get(constants.HeaderGatewaySignature),
		EventID:   c.Get(constants.HeaderGatewayEventID),
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInvalidSignature {
			return respondError(c, err)
		}
		log.Errorf("[Webhook] Delivery could not be stored: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   string(apperror.KindPersistence),
			"code":    apperror.CodePersistenceError,
			"message": "Webhook could not be stored",
		})
	}
	return c.JSON(res)
}

// HandleReplay re-applies one stored event.
func (wc *WebhookController) HandleReplay(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return respondError(c, apperror.Validation(apperror.CodeInvalidInput, "Invalid webhook event id"))
	}

	res, err := wc.ingestor.Replay(c.UserContext(), uint(id))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// HandleMetrics returns the webhook delivery counters.
func (wc *WebhookController) HandleMetrics(c *fiber.Ctx) error {
	stats, err := wc.ingestor.Stats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"gateway": wc.gateway, "counters": stats})
}
