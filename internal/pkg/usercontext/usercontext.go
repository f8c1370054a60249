// Package usercontext carries the authenticated API caller through fiber Locals.
package usercontext

import "github.com/gofiber/fiber/v2"

const localsKey = "entitled.caller"

// UserContext is the caller resolved from an API key. The zero value is anonymous.
type UserContext struct {
	UserID       uint   `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	APIKeyPrefix string `json:"api_key_prefix,omitempty"`
	IsLoggedIn   bool   `json:"is_logged_in"`
	IsAdmin      bool   `json:"is_admin"`
}

func GetUserContext(c *fiber.Ctx) UserContext {
	if u, ok := c.Locals(localsKey).(UserContext); ok {
		return u
	}
	return UserContext{}
}

func SetUserContext(c *fiber.Ctx, u UserContext) {
	c.Locals(localsKey, u)
}

// GetUserID returns 0 for anonymous requests.
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
