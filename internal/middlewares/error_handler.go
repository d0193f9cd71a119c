package middlewares

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

type errorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

// ErrorHandler renders every error as a JSON body. Client errors keep their
// message; anything unexpected is logged and surfaced as a generic 500 so
// internals never leak.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		if code < fiber.StatusInternalServerError {
			message = fiberErr.Message
		}
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("Unhandled error", "path", ctx.Path(), "code", code, "error", err)
	}

	var details []string
	if v, ok := ctx.Locals(ValidationErrorsKey).([]string); ok {
		details = v
	}
	return ctx.Status(code).JSON(errorResponse{Error: message, Errors: details})
}

// ValidationErrorsKey is the request-local carrying per-request finding
// details attached by validation layers before they reject.
const ValidationErrorsKey = "validationErrors"
