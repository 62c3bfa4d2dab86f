package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"hookhub/internal/api"
)

// Middleware returns a Fiber middleware that validates JWT tokens and
// sets the UserContext on the request.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return api.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return api.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return api.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &api.UserContext{
			ID:    claims.Subject,
			Email: claims.Email,
			Roles: claims.Roles,
		})

		return c.Next()
	}
}

// RequireAdmin is a Fiber middleware that checks the authenticated user
// has the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := api.GetUser(c)
		if user == nil {
			return api.UnauthorizedError("Missing auth token")
		}
		if !user.IsAdmin() {
			return api.ForbiddenError("Admin access required")
		}
		return c.Next()
	}
}
