package handler

import (
	"crypto/subtle"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/bikaxh01/toothsi-bot/internal/auth"
	"github.com/bikaxh01/toothsi-bot/internal/middleware"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

// LoginRequest exchanges the shared console passcode for a session token.
type LoginRequest struct {
	Passcode string `json:"passcode" validate:"required,max=256"`
	Operator string `json:"operator" validate:"required,min=1,max=64"`
}

// LoginResponse carries a console session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	Operator  string    `json:"operator"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthHandler issues console sessions and answers ForwardAuth checks
type AuthHandler struct {
	auth      *middleware.AuthMiddleware
	secret    string
	passcode  string
	ttl       time.Duration
	validator *validator.Validate
	log       logrus.FieldLogger
}

// NewAuthHandler creates an auth handler. An empty passcode disables login.
func NewAuthHandler(authMiddleware *middleware.AuthMiddleware, secret, passcode string, ttl time.Duration, v *validator.Validate, log logrus.FieldLogger) *AuthHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthHandler{
		auth:      authMiddleware,
		secret:    secret,
		passcode:  passcode,
		ttl:       ttl,
		validator: v,
		log:       log,
	}
}

// Login handles POST /auth/login
// @Summary      Open a console session
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Passcode and operator name"
// @Success      200 {object} LoginResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if h.passcode == "" || h.secret == "" {
		return response.Forbidden(c, "Passcode login is disabled")
	}

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if subtle.ConstantTimeCompare([]byte(req.Passcode), []byte(h.passcode)) != 1 {
		h.log.WithFields(logrus.Fields{"operator": req.Operator, "ip": c.IP()}).Warn("Rejected console login")
		return response.Unauthorized(c, "Invalid passcode")
	}

	token, expiresAt, err := auth.IssueSession(h.secret, req.Operator, h.ttl, time.Now())
	if err != nil {
		return response.ServiceError(c, "Failed to issue session")
	}

	h.log.WithField("operator", req.Operator).Info("Console session opened")
	return response.OK(c, LoginResponse{
		Token:     token,
		Operator:  req.Operator,
		ExpiresAt: expiresAt,
	})
}

// Verify handles GET /auth/verify for reverse-proxy ForwardAuth.
// Returns 200 with X-Operator headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	tokenString, ok := middleware.BearerToken(c.Get("Authorization"))
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	id, err := h.auth.Identify(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-Operator", id.Operator)
	c.Set("X-Auth-Method", id.Method)
	return c.SendStatus(fiber.StatusOK)
}
