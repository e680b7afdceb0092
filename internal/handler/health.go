package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports service and dependency status
type HealthHandler struct {
	remote     HealthChecker
	components fiber.Map
}

// NewHealthHandler creates a health handler. components lists static
// facts such as which optional integrations are configured.
func NewHealthHandler(remote HealthChecker, components fiber.Map) *HealthHandler {
	return &HealthHandler{
		remote:     remote,
		components: components,
	}
}

// Health handles GET /health
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	services := fiber.Map{}
	for k, v := range h.components {
		services[k] = v
	}

	status := "ok"
	if h.remote != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()
		if err := h.remote.HealthCheck(ctx); err != nil {
			status = "degraded"
			services["remote"] = false
		} else {
			services["remote"] = true
		}
	}

	return c.JSON(fiber.Map{
		"status":   status,
		"services": services,
	})
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"timestamp": time.Now().Unix(),
	})
}
