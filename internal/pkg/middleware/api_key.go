package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

// BearerAuth guards a route group with a shared secret sent as
// "Authorization: Bearer <secret>" or "X-API-Key: <secret>". An empty
// configured secret rejects every request.
func BearerAuth(name, secret string) fiber.Handler {
	log := logging.Component("auth")
	want := []byte(secret)

	return func(c *fiber.Ctx) error {
		got := extractAPIKeyFromHeader(c)
		if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			log.Warn().Str("guard", name).Str("path", c.Path()).Str("ip", c.IP()).Msg("Rejected request with bad credentials")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
