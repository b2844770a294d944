package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/middleware"
)

// ApiRouter installs the internal API used by the app backend.
type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
	}), middleware.BearerAuth("api", h.deps.InternalAPIToken))

	v1 := api.Group("/v1")
	v1.Get("/entitlements/:userID", h.deps.API.HandleGetEntitlement)
	v1.Get("/usage/:userID/:kind", h.deps.API.HandleGetUsage)
	v1.Post("/usage/:userID/:kind", h.deps.API.HandleIncrementUsage)
	v1.Post("/sequences/enroll", h.deps.API.HandleEnroll)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
