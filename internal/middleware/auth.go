package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/animastudio/render-api/internal/auth"
	"github.com/animastudio/render-api/pkg/response"
)

// AuthMiddleware validates HMAC bearer tokens. The render API runs without
// auth by default (local tooling); configuring a secret turns this on.
type AuthMiddleware struct {
	secret string
}

// NewAuthMiddleware creates auth middleware using HMAC signing.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: secret}
}

// Authenticate validates the token from the Authorization header.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		claims, err := auth.ValidateToken(parts[1], m.secret)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("subject", claims.Subject)
		return c.Next()
	}
}
