package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// parseUserID reads the :userID route parameter. Zero is not a valid id.
func parseUserID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("userID"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
