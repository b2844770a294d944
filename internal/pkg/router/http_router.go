package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/middleware"
)

// HttpRouter installs the provider webhook, cron triggers and operational endpoints.
type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", h.handleHealth)

	if h.deps.Metrics.Password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				h.deps.Metrics.User: h.deps.Metrics.Password,
			},
		}), adaptor.HTTPHandler(promhttp.Handler()))
	}

	// The webhook authenticates itself so that rejected deliveries are counted.
	app.Post("/webhooks/billing", h.deps.Billing.HandleWebhook)

	cron := app.Group("/cron", middleware.BearerAuth("cron", h.deps.CronSecret))
	cron.Post("/sequences", h.deps.Cron.HandleSequences)
	cron.Post("/intake", h.deps.Cron.HandleIntake)
	cron.Post("/expiry", h.deps.Cron.HandleExpiry)
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	if h.deps.Health != nil {
		if err := h.deps.Health(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
