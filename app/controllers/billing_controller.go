package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/billing"
)

// WebhookProcessor handles one raw billing delivery.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, authorization string, body []byte) (billing.Result, error)
}

// BillingController exposes the billing provider webhook.
type BillingController struct {
	webhooks WebhookProcessor
}

func NewBillingController(webhooks WebhookProcessor) *BillingController {
	return &BillingController{webhooks: webhooks}
}

// HandleWebhook answers 200 for anything the provider should not redeliver,
// including duplicates and unknown subjects, and 500 when it should.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	res, err := bc.webhooks.HandleWebhook(c.UserContext(), c.Get(fiber.HeaderAuthorization), c.Body())
	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(res)
	case errors.Is(err, billing.ErrUnauthorized):
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Invalid webhook credential")
	case errors.Is(err, billing.ErrMalformedEvent):
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	default:
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Event could not be applied")
	}
}
