package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Coollin0/Indie-Hain/internal/database"
	"github.com/Coollin0/Indie-Hain/internal/models"
	"github.com/Coollin0/Indie-Hain/internal/server/httperr"
	"github.com/Coollin0/Indie-Hain/internal/server/middleware"
	"github.com/Coollin0/Indie-Hain/internal/services"
)

func Register(c *fiber.Ctx) error {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
		DeviceID string `json:"device_id"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	user, err := services.Register(database.DB, in.Email, in.Password, in.Username)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			return httperr.New(fiber.StatusConflict, "CONFLICT", "email or username already registered")
		}
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	}
	tokens, err := services.IssueTokens(database.DB, user, in.DeviceID)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"user":          userJSON(user.ID, user.Email, user.Username, user.Role),
	})
}

func Login(c *fiber.Ctx) error {
	var in struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
		DeviceID string `json:"device_id"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	identity := in.Email
	if identity == "" {
		identity = in.Username
	}
	res, err := services.Authenticate(database.DB, identity, in.Password)
	if err != nil {
		return httperr.New(fiber.StatusUnauthorized, "UNAUTHORIZED", "bad credentials")
	}
	if res.ResetRequired {
		// Temp credential matched: no session until the password changes.
		return httperr.New(fiber.StatusForbidden, "PASSWORD_RESET_REQUIRED", "password reset required")
	}
	user := res.User
	now := time.Now()
	user.LastSeenAt = &now
	if err := database.DB.Save(user).Error; err != nil {
		Logger.Warn("last-seen update failed", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	tokens, err := services.IssueTokens(database.DB, user, in.DeviceID)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"user":          userJSON(user.ID, user.Email, user.Username, user.Role),
	})
}

func Refresh(c *fiber.Ctx) error {
	var in struct {
		RefreshToken string `json:"refresh_token"`
		DeviceID     string `json:"device_id"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	tokens, err := services.RefreshTokens(database.DB, in.RefreshToken, in.DeviceID)
	if err != nil {
		if errors.Is(err, services.ErrReuseDetected) {
			Logger.Warn("refresh replay rejected", zap.String("ip", c.IP()))
		}
		// Reuse, device mismatch and malformed tokens all look the same to
		// the caller.
		return httperr.New(fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
	}
	return c.JSON(fiber.Map{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
	})
}

// Logout revokes the access token's session, plus the refresh token's
// session when one is supplied in the body.
func Logout(c *fiber.Ctx) error {
	claims, _ := c.Locals("claims").(*services.UserClaims)
	if claims != nil {
		_ = services.RevokeSession(database.DB, claims.SessionID)
	}
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&in); err == nil && in.RefreshToken != "" {
		if sid, _, err := services.ParseRefreshToken(in.RefreshToken); err == nil {
			_ = services.RevokeSession(database.DB, sid)
		}
	}
	return c.JSON(fiber.Map{"ok": true})
}

func Me(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	return c.JSON(fiber.Map{"user": userJSON(user.ID, user.Email, user.Username, user.Role)})
}

func UpdateProfile(c *fiber.Ctx) error {
	var in struct {
		Username string `json:"username"`
	}
	if err := c.BodyParser(&in); err != nil {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "username required")
	}
	user := middleware.CurrentUser(c)
	var count int64
	database.DB.Model(&models.User{}).
		Where("lower(username) = lower(?) AND id <> ?", username, user.ID).
		Count(&count)
	if count > 0 {
		return httperr.New(fiber.StatusConflict, "CONFLICT", "username taken")
	}
	user.Username = username
	if err := database.DB.Save(user).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"user": userJSON(user.ID, user.Email, user.Username, user.Role)})
}

func ChangePassword(c *fiber.Ctx) error {
	var in struct {
		Password string `json:"password"`
	}
	if err := c.BodyParser(&in); err != nil || in.Password == "" {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "password required")
	}
	user := middleware.CurrentUser(c)
	if err := services.ChangePassword(database.DB, user, in.Password); err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}

// ResetPassword completes the forced-reset flow: the temp credential plus a
// new password yields a fresh session. Errors stay generic so the endpoint
// cannot be used to probe which accounts are in the reset state.
func ResetPassword(c *fiber.Ctx) error {
	var in struct {
		Email        string `json:"email"`
		Username     string `json:"username"`
		TempPassword string `json:"temp_password"`
		Password     string `json:"password"`
		DeviceID     string `json:"device_id"`
	}
	if err := c.BodyParser(&in); err != nil || in.Password == "" {
		return httperr.New(fiber.StatusBadRequest, "VALIDATION_ERROR", "password required")
	}
	identity := in.Email
	if identity == "" {
		identity = in.Username
	}
	user, err := services.ResetPassword(database.DB, identity, in.TempPassword, in.Password)
	if err != nil {
		return httperr.New(fiber.StatusUnauthorized, "UNAUTHORIZED", "bad credentials")
	}
	tokens, err := services.IssueTokens(database.DB, user, in.DeviceID)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"user":          userJSON(user.ID, user.Email, user.Username, user.Role),
	})
}

// UpgradeToPublisher is the self-service path from user to publisher.
func UpgradeToPublisher(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user.Role == models.RoleUser {
		// Self-initiated elevation keeps the current session; role checks
		// read the user row, not the stale token claim.
		user.Role = models.RolePublisher
		if err := database.DB.Save(user).Error; err != nil {
			return fiber.ErrInternalServerError
		}
	}
	return c.JSON(fiber.Map{"user": userJSON(user.ID, user.Email, user.Username, user.Role)})
}
