// Package httperr defines the wire error shape: every API failure carries a
// stable reason code alongside the HTTP status.
package httperr

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Handler is the fiber error handler that renders every error as
// {"error": {"code", "message"}}.
func Handler(c *fiber.Ctx, err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Status).JSON(fiber.Map{
			"error": fiber.Map{"code": apiErr.Code, "message": apiErr.Message},
		})
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiber.Map{"code": codeForStatus(fiberErr.Code), "message": fiberErr.Message},
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fiber.Map{"code": "INTERNAL", "message": "internal server error"},
	})
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "VALIDATION_ERROR"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}
