package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// BusinessContextMiddleware extracts the acting business identity set by the
// Gateway. Handlers read c.Locals("business_id") when they need the caller's
// identity for authorization checks.
func BusinessContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		businessID := c.Get("X-Business-ID")
		rolesStr := c.Get("X-Business-Roles")

		if businessID == "" {
			log.Printf("[BUSINESS_CTX] X-Business-ID missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Business-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		c.Locals("business_id", businessID)
		c.Locals("business_roles", roles)

		return c.Next()
	}
}
