package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/models"
	"github.com/Coollin0/Indie-Hain/internal/services"
)

func bearerToken(c *fiber.Ctx) string {
	authz := c.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

// AuthRequired verifies the bearer token, re-checks session liveness, loads
// the user, and enforces the role set (empty = any authenticated role).
// Claims and user land in c.Locals for the handler.
func AuthRequired(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "UNAUTHORIZED")
		}
		claims, err := services.Authorize(database.DB, token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "UNAUTHORIZED")
		}
		var user models.User
		if err := database.DB.First(&user, claims.UserID).Error; err != nil || !user.IsActive {
			return fiber.NewError(fiber.StatusUnauthorized, "UNAUTHORIZED")
		}
		if !hasRole(user.Role, roles) {
			return fiber.NewError(fiber.StatusForbidden, "FORBIDDEN")
		}
		c.Locals("user", &user)
		c.Locals("claims", claims)
		return c.Next()
	}
}

// RequireUser admits any authenticated, active account.
func RequireUser() fiber.Handler {
	return AuthRequired()
}

// RequirePublisher admits publishers and admins.
func RequirePublisher() fiber.Handler {
	return AuthRequired(models.RolePublisher, models.RoleAdmin)
}

// RequireAdmin admits admins only.
func RequireAdmin() fiber.Handler {
	return AuthRequired(models.RoleAdmin)
}

func hasRole(userRole string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == userRole {
			return true
		}
	}
	return false
}

// CurrentUser returns the user loaded by AuthRequired.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals("user").(*models.User)
	return user
}
