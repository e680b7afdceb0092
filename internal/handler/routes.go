package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bikaxh01/toothsi-bot/internal/config"
	"github.com/bikaxh01/toothsi-bot/internal/middleware"
)

// Routes bundles everything the HTTP surface is built from.
type Routes struct {
	Health *HealthHandler
	Auth   *AuthHandler
	Upload *UploadHandler
	Batch  *BatchHandler
	Redial *RedialHandler
	Socket *SocketHandler

	Authenticate fiber.Handler
	RateLimiter  *middleware.RateLimiter
	Limits       config.RateLimitConfig
}

// Register mounts every route on app.
func (r *Routes) Register(app *fiber.App) {
	app.Get("/", r.Health.Root)
	app.Get("/health", r.Health.Health)

	app.Post("/auth/login", r.Auth.Login)
	app.Get("/auth/verify", r.Auth.Verify)

	api := app.Group("/api", r.Authenticate)

	api.Post("/upload", r.RateLimiter.UploadLimit(r.Limits.UploadPerHour), r.Upload.Upload)

	api.Get("/batches", r.Batch.List)
	api.Post("/batches/:batchId/poll", r.Batch.Poll)
	api.Delete("/poll", r.Batch.StopPoll)

	api.Get("/view", r.Batch.View)
	api.Post("/view/refresh", r.Batch.Refresh)
	api.Get("/view/calls/:callId", r.Batch.Call)

	api.Post("/calls/:callId/redial", r.RateLimiter.RedialLimit(r.Limits.RedialPerMin), r.Redial.Redial)
	api.Get("/redials/:requestId", r.Redial.Attempt)

	app.Get("/ws/batches/:batchId", r.Socket.Upgrade, r.Authenticate, r.Socket.Stream())
}
