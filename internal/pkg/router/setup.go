package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/settlement"
	"github.com/ManuelReschke/PayFox/internal/pkg/statistics"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services behind the HTTP surface. Statistics, Jobs,
// Queue and LimiterStorage are optional.
type Dependencies struct {
	Config      *config.Config
	Payments    *payment.Service
	Ingestor    *webhook.Ingestor
	Settlements *settlement.Batcher
	Statistics  *statistics.Service
	Jobs        controllers.SettlementJobs
	Queue       controllers.QueueStats

	// LimiterStorage backs the rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps.Config), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
