package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"gitblog/internal/http/middleware"
	"gitblog/internal/logging"
	"gitblog/internal/service"
	"gitblog/internal/storage"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "VALIDATION_ERROR", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorPayload{
		Success:   false,
		Error:     message,
		Code:      code,
		RequestID: requestIDFromCtx(c),
	})
}

// serviceError translates a service failure into a response and logs it with the operation name.
func serviceError(c *fiber.Ctx, log logging.Logger, op string, err error) error {
	status, code, message := classify(err)
	args := []any{"op", op, "status", status, "error", err}
	if status >= fiber.StatusInternalServerError {
		log.Error(c.UserContext(), "request failed", args...)
	} else {
		log.Warn(c.UserContext(), "request rejected", args...)
	}
	return writeError(c, status, code, message)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, service.ErrIDRequired):
		return fiber.StatusBadRequest, "INVALID_ID", "invalid post id"
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND", "post not found"
	case errors.Is(err, storage.ErrConflict):
		return fiber.StatusConflict, "CONFLICT", "the post was changed by another writer, reload and retry"
	case errors.Is(err, service.ErrTimeout):
		return fiber.StatusGatewayTimeout, "TIMEOUT", "operation timed out"
	case errors.Is(err, service.ErrUnsafeCleanup):
		return fiber.StatusInternalServerError, "UNSAFE_CLEANUP", service.ErrUnsafeCleanup.Error()
	case errors.Is(err, service.ErrCleanupAborted):
		return fiber.StatusInternalServerError, "CLEANUP_ABORTED", service.ErrCleanupAborted.Error()
	default:
		return fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
