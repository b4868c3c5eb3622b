package router

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/constants"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

const (
	apiRequestsPerMinute = 120
	limiterRedisDB       = 2 // cache and job queue live in DB 0
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        apiRequestsPerMinute,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		// Gateways burst retries; deliveries are deduplicated downstream.
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), constants.APIv1Route+constants.WebhooksRoute)
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	adminKey := ""
	gatewayName := ""
	if h.deps.Config != nil {
		adminKey = h.deps.Config.App.AdminKey
		gatewayName = h.deps.Config.Gateway.Name
	}
	admin := middleware.AdminKeyMiddleware(adminKey)

	paymentController := controllers.NewPaymentController(h.deps.Payments)
	refundController := controllers.NewRefundController(h.deps.Payments)
	settlementController := controllers.NewSettlementController(h.deps.Settlements, h.deps.Jobs)
	webhookController := controllers.NewWebhookController(h.deps.Ingestor, gatewayName)
	jobController := controllers.NewJobController(h.deps.Queue)
	statisticsController := controllers.NewStatisticsController(h.deps.Statistics)

	// Payments
	payments := v1.Group(constants.PaymentsRoute)
	payments.Post("/", paymentController.HandleCreatePayment)
	payments.Post("/verify", paymentController.HandleVerifyPayment)
	payments.Get("/", admin, paymentController.HandleListPayments)
	payments.Get("/order/:orderId", paymentController.HandleGetPaymentByOrder)
	payments.Get("/:id", paymentController.HandleGetPayment)
	payments.Patch("/:id/status", admin, paymentController.HandleUpdateStatus)
	payments.Patch("/:id/capture", admin, paymentController.HandleCapturePayment)

	// Refunds
	refunds := v1.Group(constants.RefundsRoute)
	refunds.Post("/", admin, refundController.HandleCreateRefund)
	refunds.Get("/payment/:id", refundController.HandleListByPayment)
	refunds.Get("/:id", refundController.HandleGetRefund)
	refunds.Post("/:id/sync", admin, refundController.HandleSyncRefund)
	refunds.Patch("/:id/status", admin, refundController.HandleUpdateStatus)

	// Settlements
	settlements := v1.Group(constants.SettlementsRoute)
	settlements.Post("/generate", admin, settlementController.HandleGenerate)
	settlements.Post("/run", admin, settlementController.HandleRun)
	settlements.Get("/", admin, settlementController.HandleListSettlements)
	settlements.Get("/:id", admin, settlementController.HandleGetSettlement)
	settlements.Get("/:id/line-items", admin, settlementController.HandleLineItems)
	settlements.Get("/:id/statement", admin, settlementController.HandleStatement)
	settlements.Post("/:id/archive", admin, settlementController.HandleArchive)
	settlements.Patch("/:id/process", admin, settlementController.HandleProcess)
	settlements.Patch("/:id/status", admin, settlementController.HandleUpdateStatus)
	settlements.Post("/:id/notes", admin, settlementController.HandleAddNote)

	// Gateway callbacks
	v1.Post(constants.WebhooksRoute+"/:gateway", webhookController.HandleWebhook)

	// Operator tools
	adminGroup := v1.Group(constants.AdminRoute, admin)
	adminGroup.Post("/webhooks/:id/replay", webhookController.HandleReplay)
	adminGroup.Get("/metrics/webhooks", webhookController.HandleMetrics)
	adminGroup.Get("/metrics/jobs", jobController.HandleMetrics)
	adminGroup.Get("/metrics/payments", statisticsController.HandlePaymentMetrics)
	adminGroup.Get("/jobs/:id", jobController.HandleGetJob)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

// NewLimiterStorage returns Redis backed limiter storage so that rate limits
// hold across instances. The storage pings Redis on creation and panics when
// it is unreachable, so callers check the cache connection first.
func NewLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: limiterRedisDB,
		Reset:    false,
	})
}
