package handlers

import (
	"competition-engine/apperrors"
	"competition-engine/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// statusFor maps an error kind to an HTTP status. Malformed input is 400;
// a well-formed request that breaks a competition rule is 422.
func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		switch apperrors.CodeOf(err) {
		case apperrors.CodeInvalidInput, apperrors.CodeInvalidKind, apperrors.CodeInvalidWindow:
			return fiber.StatusBadRequest
		}
		return fiber.StatusUnprocessableEntity
	case apperrors.KindNotFound:
		return fiber.StatusNotFound
	case apperrors.KindConflict:
		return fiber.StatusConflict
	case apperrors.KindTransient:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := errorBody{
		Error:     string(apperrors.CodeOf(err)),
		Message:   err.Error(),
		Retryable: apperrors.IsRetryable(err),
	}
	if e, ok := apperrors.As(err); ok {
		body.Message = e.Message
	}
	if body.Error == "" {
		body.Error = "INTERNAL"
		body.Message = "internal error"
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err))
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: string(apperrors.CodeInvalidInput), Message: msg})
}
