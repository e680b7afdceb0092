package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/bikaxh01/toothsi-bot/internal/auth"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

// Authentication methods recorded in the request context
const (
	MethodSession = "session"
	MethodOIDC    = "oidc"
)

var errNoCredentials = errors.New("invalid or expired token")

// AuthMiddleware accepts console session tokens and, when configured,
// tokens from an OIDC issuer
type AuthMiddleware struct {
	verifier      auth.TokenVerifier
	sessionSecret string
}

// NewAuthMiddleware creates auth middleware. verifier may be nil.
func NewAuthMiddleware(verifier auth.TokenVerifier, sessionSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:      verifier,
		sessionSecret: sessionSecret,
	}
}

// Identity is the authenticated operator.
type Identity struct {
	Operator string
	Method   string
}

// Identify validates a bearer token without touching a request.
func (m *AuthMiddleware) Identify(tokenString string) (*Identity, error) {
	if m.sessionSecret != "" {
		if claims, err := auth.ValidateSession(tokenString, m.sessionSecret); err == nil {
			return &Identity{Operator: claims.Operator, Method: MethodSession}, nil
		}
	}

	if m.verifier != nil {
		if claims, err := m.verifier.Validate(tokenString); err == nil {
			return &Identity{Operator: claims.Operator(), Method: MethodOIDC}, nil
		}
	}

	return nil, errNoCredentials
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Authenticate validates the bearer token of every request
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			// Browsers cannot set headers on websocket upgrades.
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			} else {
				return response.Unauthorized(c, "Missing authorization header")
			}
		}

		tokenString, ok := BearerToken(authHeader)
		if !ok {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		id, err := m.Identify(tokenString)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("operator", id.Operator)
		c.Locals("authMethod", id.Method)
		return c.Next()
	}
}

// GetOperator extracts the operator from context
func GetOperator(c *fiber.Ctx) string {
	if operator, ok := c.Locals("operator").(string); ok {
		return operator
	}
	return ""
}

