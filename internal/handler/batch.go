package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bikaxh01/toothsi-bot/internal/service"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

const idRule = "required,max=128,printascii"

type BatchHandler struct {
	service   *service.BatchService
	validator *validator.Validate
}

func NewBatchHandler(svc *service.BatchService, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/batches
// @Summary      List batches
// @Tags         Batches
// @Produce      json
// @Success      200 {array}  model.Batch
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/batches [get]
func (h *BatchHandler) List(c *fiber.Ctx) error {
	batches, err := h.service.List(c.UserContext())
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, fiber.Map{"batches": batches})
}

// Poll handles POST /api/batches/:batchId/poll
// @Summary      Select a batch and poll it
// @Description  Switches the console to the batch and (re)starts polling
// @Tags         Batches
// @Produce      json
// @Param        batchId path string true "Batch ID"
// @Success      200 {object} viewstate.Snapshot
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/batches/{batchId}/poll [post]
func (h *BatchHandler) Poll(c *fiber.Ctx) error {
	batchID := c.Params("batchId")
	if err := h.validator.Var(batchID, idRule); err != nil {
		return response.ValidationError(c, "Invalid batch ID", formatValidationErrors(err))
	}

	snap, err := h.service.Select(batchID)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, snap)
}

// StopPoll handles DELETE /api/poll
// @Summary      Stop polling
// @Tags         Batches
// @Success      204 "No Content"
// @Security     BearerAuth
// @Router       /api/poll [delete]
func (h *BatchHandler) StopPoll(c *fiber.Ctx) error {
	h.service.Stop()
	return response.NoContent(c)
}

// View handles GET /api/view
// @Summary      Current view-state
// @Tags         View
// @Produce      json
// @Success      200 {object} viewstate.Snapshot
// @Security     BearerAuth
// @Router       /api/view [get]
func (h *BatchHandler) View(c *fiber.Ctx) error {
	return response.OK(c, h.service.Snapshot())
}

// Refresh handles POST /api/view/refresh
// @Summary      Refresh the active batch now
// @Tags         View
// @Produce      json
// @Success      200 {object} viewstate.Snapshot
// @Failure      409 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/view/refresh [post]
func (h *BatchHandler) Refresh(c *fiber.Ctx) error {
	snap, err := h.service.RefreshNow(c.UserContext())
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, snap)
}

// Call handles GET /api/view/calls/:callId
// @Summary      Call detail
// @Description  Summary, intent, quality score, transcript and recording of one call
// @Tags         View
// @Produce      json
// @Param        callId path string true "Call ID"
// @Success      200 {object} model.CallView
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/view/calls/{callId} [get]
func (h *BatchHandler) Call(c *fiber.Ctx) error {
	callID := c.Params("callId")
	if err := h.validator.Var(callID, idRule); err != nil {
		return response.ValidationError(c, "Invalid call ID", formatValidationErrors(err))
	}

	call, ok := h.service.Call(callID)
	if !ok {
		return response.NotFound(c, "Call not found in the current batch")
	}
	return response.OK(c, call)
}
