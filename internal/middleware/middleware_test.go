package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikaxh01/toothsi-bot/internal/auth"
	"github.com/bikaxh01/toothsi-bot/internal/logging"
)

func newApp(m *AuthMiddleware, rl *RateLimiter) *fiber.App {
	app := fiber.New()
	app.Get("/private", m.Authenticate(), rl.RedialLimit(1), func(c *fiber.Ctx) error {
		return c.SendString(GetOperator(c) + "/" + c.Locals("authMethod").(string))
	})
	return app
}

func TestAuthenticate(t *testing.T) {
	m := NewAuthMiddleware(nil, "secret")
	app := newApp(m, NewRateLimiter(nil, logging.Discard()))

	token, _, err := auth.IssueSession("secret", "operator", time.Hour, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed", "Token abc", "", http.StatusUnauthorized},
		{"invalid", "Bearer abc", "", http.StatusUnauthorized},
		{"valid", "Bearer " + token, "", http.StatusOK},
		{"query token", "", "?token=" + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRateLimiterWithoutRedisAllows(t *testing.T) {
	m := NewAuthMiddleware(nil, "secret")
	app := newApp(m, NewRateLimiter(nil, logging.Discard()))

	token, _, err := auth.IssueSession("secret", "operator", time.Hour, time.Now())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("bearer xyz")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = BearerToken("xyz")
	assert.False(t, ok)
}
