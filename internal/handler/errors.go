package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bikaxh01/toothsi-bot/internal/client"
	"github.com/bikaxh01/toothsi-bot/internal/poller"
	"github.com/bikaxh01/toothsi-bot/internal/service"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

// serviceError maps service and client errors to error envelopes
func serviceError(c *fiber.Ctx, err error) error {
	var apiErr *client.APIError

	switch {
	case errors.Is(err, service.ErrInvalidFile),
		errors.Is(err, service.ErrInvalidCallID),
		errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, poller.ErrEmptyBatchID):
		return response.ValidationError(c, err.Error(), nil)

	case errors.Is(err, service.ErrRedialInFlight):
		return response.Conflict(c, response.CodeRedialInFlight, err.Error())

	case errors.Is(err, service.ErrNoActiveBatch):
		return response.Conflict(c, response.CodeConflict, err.Error())

	case errors.Is(err, service.ErrAttemptNotFound):
		return response.NotFound(c, err.Error())

	case errors.As(err, &apiErr):
		return response.RemoteError(c, err.Error(), fiber.Map{
			"status": apiErr.StatusCode,
			"detail": apiErr.Detail,
		})

	case errors.Is(err, service.ErrMissingBatchID):
		return response.RemoteError(c, err.Error(), nil)

	case errors.Is(err, client.ErrTransport):
		return response.RemoteUnavailable(c, err.Error())

	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Field()] = e.Tag()
		}
		return errs
	}
	return nil
}
