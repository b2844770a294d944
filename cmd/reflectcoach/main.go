package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/ManuelReschke/ReflectCoach/app/controllers"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/bootstrap"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/config"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/env"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Setup(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.Open(ctx, cfg, cfg.IsDev())
	if err != nil {
		log.Fatal().Err(err).Msg("Could not start engine")
	}
	defer engine.Close()

	if err := engine.Registry.Watch(); err != nil {
		log.Warn().Err(err).Msg("Sequence definitions will not hot-reload")
	}

	manager := engine.Manager()
	if err := jobqueue.RegisterCollector(prometheus.DefaultRegisterer, manager); err != nil {
		log.Warn().Err(err).Msg("Job queue metrics disabled")
	}
	manager.Start()
	defer manager.Stop()

	app := NewApplication(cfg, engine)
	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	addr := fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort)
	log.Info().Str("addr", addr).Str("cron_mode", cfg.CronMode).Msg("Starting server")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
}

func NewApplication(cfg *config.Config, engine *bootstrap.Engine) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "reflectcoach",
		BodyLimit:             1 << 20,
		DisableStartupMessage: !cfg.IsDev(),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	deps := router.Dependencies{
		Billing:          controllers.NewBillingController(engine.Billing),
		Cron:             controllers.NewCronController(engine.Runner),
		API:              controllers.NewAPIController(engine.Resolver, engine.Usage, engine.Intake, engine.Stores.Users(), engine.Clock),
		CronSecret:       cfg.CronSecret,
		InternalAPIToken: cfg.InternalAPIToken,
		Metrics:          cfg.Metrics,
		Health:           engine.Health,
	}
	if engine.Redis != nil {
		deps.LimiterStorage = router.NewLimiterStorage(engine.Redis)
	}

	// ROUTER
	router.InstallRouter(app, deps)

	return app
}
