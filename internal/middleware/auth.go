package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware validates the bearer token on run-management
// endpoints against the API_TOKEN environment variable. When no token
// is configured the API is open, which is the expected mode for local
// batch work.
func AuthMiddleware() fiber.Handler {
	configured := os.Getenv("API_TOKEN")
	var want [32]byte
	if configured != "" {
		want = sha256.Sum256([]byte(configured))
	}

	return func(c *fiber.Ctx) error {
		if configured == "" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "missing_api_token",
				"message": "API token is required. Use Authorization: Bearer YOUR_TOKEN",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_auth_format",
				"message": "Authorization header must be in format: Bearer YOUR_TOKEN",
			})
		}

		got := sha256.Sum256([]byte(strings.TrimSpace(parts[1])))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_api_token",
				"message": "The provided API token is not valid",
			})
		}
		return c.Next()
	}
}
