package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bikaxh01/toothsi-bot/internal/service"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

type RedialHandler struct {
	service   *service.RedialService
	validator *validator.Validate
}

func NewRedialHandler(svc *service.RedialService, v *validator.Validate) *RedialHandler {
	return &RedialHandler{
		service:   svc,
		validator: v,
	}
}

// Redial handles POST /api/calls/:callId/redial
// @Summary      Redial a call
// @Description  Re-triggers one call task. Refused while a redial of the same call is in flight.
// @Tags         Redial
// @Produce      json
// @Param        callId path string true "Call ID"
// @Success      202 {object} model.RedialAccepted
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/calls/{callId}/redial [post]
func (h *RedialHandler) Redial(c *fiber.Ctx) error {
	callID := c.Params("callId")
	if err := h.validator.Var(callID, idRule); err != nil {
		return response.ValidationError(c, "Invalid call ID", formatValidationErrors(err))
	}

	accepted, err := h.service.Redial(c.UserContext(), callID)
	if err != nil {
		return serviceError(c, err)
	}
	return response.Accepted(c, accepted)
}

// Attempt handles GET /api/redials/:requestId
// @Summary      Redial request outcome
// @Tags         Redial
// @Produce      json
// @Param        requestId path string true "Request ID"
// @Success      200 {object} model.RedialAttempt
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/redials/{requestId} [get]
func (h *RedialHandler) Attempt(c *fiber.Ctx) error {
	requestID := c.Params("requestId")
	if err := h.validator.Var(requestID, "required,uuid"); err != nil {
		return response.ValidationError(c, "Invalid request ID", formatValidationErrors(err))
	}

	attempt, err := h.service.Attempt(c.UserContext(), requestID)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, attempt)
}
