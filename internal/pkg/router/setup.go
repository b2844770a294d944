package router

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ReflectCoach/app/controllers"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/config"
)

// Router installs one group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries everything the routes need from the composition root.
type Dependencies struct {
	Billing *controllers.BillingController
	Cron    *controllers.CronController
	API     *controllers.APIController

	CronSecret       string
	InternalAPIToken string
	Metrics          config.MetricsConfig

	// LimiterStorage backs the API rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	// Health reports readiness of the backing stores.
	Health func(ctx context.Context) error
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
