package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/billing"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/sequences"
)

// LifecycleJobs runs the periodic jobs triggered by external cron.
type LifecycleJobs interface {
	Sequences(ctx context.Context) (sequences.Summary, bool, error)
	Intake(ctx context.Context) (sequences.Summary, bool, error)
	Expiry(ctx context.Context) (billing.SweepResult, bool, error)
}

// CronController exposes the lifecycle jobs over HTTP. Authentication is
// done by the route group.
type CronController struct {
	jobs LifecycleJobs
}

func NewCronController(jobs LifecycleJobs) *CronController {
	return &CronController{jobs: jobs}
}

func (cc *CronController) HandleSequences(c *fiber.Ctx) error {
	sum, shared, err := cc.jobs.Sequences(c.UserContext())
	return cronResponse(c, sum, shared, err)
}

func (cc *CronController) HandleIntake(c *fiber.Ctx) error {
	sum, shared, err := cc.jobs.Intake(c.UserContext())
	return cronResponse(c, sum, shared, err)
}

func (cc *CronController) HandleExpiry(c *fiber.Ctx) error {
	res, shared, err := cc.jobs.Expiry(c.UserContext())
	return cronResponse(c, res, shared, err)
}

func cronResponse(c *fiber.Ctx, result any, shared bool, err error) error {
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": err.Error(),
			"result":  result,
		})
	}
	if shared {
		c.Set("X-Run-Shared", "true")
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
