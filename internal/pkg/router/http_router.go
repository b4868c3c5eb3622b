package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// HttpRouter serves the unversioned service endpoints.
type HttpRouter struct {
	cfg     *config.Config
	started time.Time
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", h.handleHealth)
}

func NewHttpRouter(cfg *config.Config) *HttpRouter {
	return &HttpRouter{cfg: cfg, started: time.Now().UTC()}
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.cfg != nil {
		resp["env"] = h.cfg.App.Env
		resp["gateway"] = h.cfg.Gateway.Name
	}
	return c.JSON(resp)
}
