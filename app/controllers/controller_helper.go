package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIP returns the client address used as the rate limiter key. Proxy
// headers count only when the app was configured to trust the sending proxy.
func ClientIP(c *fiber.Ctx) string {
	// IPv4-mapped IPv6 addresses
	return strings.TrimPrefix(c.IP(), "::ffff:")
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
