package api

import "github.com/gofiber/fiber/v2"

// UserContext carries the authenticated caller through request handling.
type UserContext struct {
	ID    string
	Email string
	Roles []string
}

// IsAdmin reports whether the user holds the admin role.
func (u *UserContext) IsAdmin() bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == "admin" {
			return true
		}
	}
	return false
}

// GetUser extracts the UserContext set by the auth middleware.
func GetUser(c *fiber.Ctx) *UserContext {
	user, _ := c.Locals("user").(*UserContext)
	return user
}

// Actor returns the best available identifier for audit entries.
func Actor(c *fiber.Ctx) string {
	if u := GetUser(c); u != nil {
		if u.Email != "" {
			return u.Email
		}
		return u.ID
	}
	return ""
}
