package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/clock"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/entitlements"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/sequences"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/usage"
)

type EntitlementResolver interface {
	Resolve(ctx context.Context, userID uint, now time.Time) (entitlements.Resolution, error)
}

type UsageTracker interface {
	Increment(ctx context.Context, userID uint, kind string) (usage.Decision, error)
	Peek(ctx context.Context, userID uint, kind string) (usage.Snapshot, error)
}

type SequenceEnroller interface {
	Enroll(ctx context.Context, userID uint, name models.SequenceName, now time.Time) (bool, error)
}

type UserFinder interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// APIController serves the internal API used by the app backend.
type APIController struct {
	resolver EntitlementResolver
	usage    UsageTracker
	enroller SequenceEnroller
	users    UserFinder
	clock    clock.Clock
	validate *validator.Validate
	log      zerolog.Logger
}

func NewAPIController(resolver EntitlementResolver, tracker UsageTracker, enroller SequenceEnroller, users UserFinder, clk clock.Clock) *APIController {
	if clk == nil {
		clk = clock.System{}
	}
	return &APIController{
		resolver: resolver,
		usage:    tracker,
		enroller: enroller,
		users:    users,
		clock:    clk,
		validate: validator.New(),
		log:      logging.Component("api"),
	}
}

type entitlementResponse struct {
	UserID uint `json:"user_id"`
	entitlements.Resolution
	PaidAccess bool `json:"paid_access"`
	Degraded   bool `json:"degraded,omitempty"`
}

// HandleGetEntitlement returns the resolved entitlement. Lookup failures
// answer with the free fallback flagged as degraded.
func (ac *APIController) HandleGetEntitlement(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid user id")
	}

	res, err := ac.resolver.Resolve(c.UserContext(), userID, ac.clock.Now())
	out := entitlementResponse{UserID: userID, Resolution: res, PaidAccess: res.HasPaidAccess()}
	if err != nil {
		ac.log.Error().Err(err).Uint("user_id", userID).Msg("Entitlement resolution failed")
		out.Degraded = true
	}
	return c.JSON(out)
}

func (ac *APIController) HandleGetUsage(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid user id")
	}
	snap, err := ac.usage.Peek(c.UserContext(), userID, c.Params("kind"))
	if err != nil {
		return ac.usageError(c, userID, err)
	}
	return c.JSON(snap)
}

// HandleIncrementUsage counts one use. A denied attempt answers 429 with
// the same body shape.
func (ac *APIController) HandleIncrementUsage(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid user id")
	}
	dec, err := ac.usage.Increment(c.UserContext(), userID, c.Params("kind"))
	if err != nil {
		return ac.usageError(c, userID, err)
	}
	if !dec.Allowed {
		return c.Status(fiber.StatusTooManyRequests).JSON(dec)
	}
	return c.JSON(dec)
}

func (ac *APIController) usageError(c *fiber.Ctx, userID uint, err error) error {
	if errors.Is(err, usage.ErrUnknownKind) {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}
	ac.log.Error().Err(err).Uint("user_id", userID).Msg("Usage counter failed")
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Usage counter unavailable")
}

type enrollRequest struct {
	UserID   uint   `json:"user_id" validate:"required"`
	Sequence string `json:"sequence" validate:"required,oneof=onboarding trial winback"`
}

func (ac *APIController) HandleEnroll(c *fiber.Ctx) error {
	var req enrollRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}
	if err := ac.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	user, err := ac.users.GetByID(c.UserContext(), req.UserID)
	if err != nil {
		ac.log.Error().Err(err).Uint("user_id", req.UserID).Msg("User lookup failed")
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}
	if user == nil {
		return jsonError(c, fiber.StatusNotFound, "not_found", "User not found")
	}

	enrolled, err := ac.enroller.Enroll(c.UserContext(), req.UserID, models.SequenceName(req.Sequence), ac.clock.Now())
	if err != nil {
		if errors.Is(err, sequences.ErrUnknownSequence) {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
		}
		ac.log.Error().Err(err).Uint("user_id", req.UserID).Str("sequence", req.Sequence).Msg("Enrollment failed")
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Enrollment failed")
	}

	status := fiber.StatusOK
	if enrolled {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"user_id": req.UserID, "sequence": req.Sequence, "enrolled": enrolled})
}
