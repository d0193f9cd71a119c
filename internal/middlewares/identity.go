package middlewares

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hrkit/secgate/internal/security/ratelimit"
)

// Identity resolves the authenticated caller from a bearer token issued by
// the external auth system, so per-user rate limiting and role bypasses have
// an identity to key on. Invalid tokens are ignored: requests continue
// anonymously and downstream guards fall back to address-based keys.
func Identity(secret string) fiber.Handler {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}
	return func(ctx *fiber.Ctx) error {
		auth := ctx.Get(fiber.HeaderAuthorization)
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			return ctx.Next()
		}

		token, err := jwt.Parse(auth[len(prefix):], keyFunc, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			slog.Debug("Ignoring invalid bearer token", "error", err)
			return ctx.Next()
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return ctx.Next()
		}
		if sub, _ := claims.GetSubject(); sub != "" {
			ctx.Locals(ratelimit.UserIDKey, sub)
		}
		if rawRoles, ok := claims["roles"].([]interface{}); ok {
			roles := make([]string, 0, len(rawRoles))
			for _, r := range rawRoles {
				if s, ok := r.(string); ok {
					roles = append(roles, s)
				}
			}
			ctx.Locals(ratelimit.RolesKey, roles)
		}
		return ctx.Next()
	}
}
