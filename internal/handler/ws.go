package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/bikaxh01/toothsi-bot/internal/service"
	ws "github.com/bikaxh01/toothsi-bot/internal/websocket"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

// SocketHandler streams view-state updates of one batch
type SocketHandler struct {
	hub       *ws.Hub
	batches   *service.BatchService
	validator *validator.Validate
}

func NewSocketHandler(hub *ws.Hub, batches *service.BatchService, v *validator.Validate) *SocketHandler {
	return &SocketHandler{
		hub:       hub,
		batches:   batches,
		validator: v,
	}
}

// Upgrade rejects plain HTTP requests and malformed batch ids before the
// websocket handshake.
func (h *SocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if err := h.validator.Var(c.Params("batchId"), idRule); err != nil {
		return response.ValidationError(c, "Invalid batch ID", formatValidationErrors(err))
	}
	return c.Next()
}

// Stream handles GET /ws/batches/:batchId. A subscriber of the batch on
// screen gets the current snapshot right away.
func (h *SocketHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		batchID := c.Params("batchId")

		var initial interface{}
		if snap := h.batches.Snapshot(); snap.BatchID == batchID {
			initial = snap
		}
		h.hub.HandleConnection(c, batchID, initial)
	})
}
