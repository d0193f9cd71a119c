package middlewares

import (
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hrkit/secgate/internal/audit"
	"github.com/hrkit/secgate/internal/security/csrf"
	"github.com/hrkit/secgate/internal/security/ratelimit"
	"github.com/hrkit/secgate/params"
)

var csrfProtectedMethods = map[string]bool{
	fiber.MethodPost:   true,
	fiber.MethodPut:    true,
	fiber.MethodPatch:  true,
	fiber.MethodDelete: true,
}

// defaultExemptPaths skips endpoints that cannot yet hold a token.
var defaultExemptPaths = []string{
	"/api/auth/login",
	"/api/auth/register",
	"/api/auth/refresh",
	"/api/auth/csrf-token",
	"/livez",
	"/readyz",
}

// CSRFGuard enforces presence of an anti-forgery header on mutating
// requests. This is a shape check only: it accepts any single header value
// of plausible token length. It does not verify the session binding, since
// the session id is not resolved at this point in the chain. Handlers that
// hold the session verify the binding through csrf.Manager.VerifyHeaders.
// Shape checking alone is not sufficient protection by itself.
func CSRFGuard(exemptPaths []string) fiber.Handler {
	if exemptPaths == nil {
		exemptPaths = defaultExemptPaths
	}
	return func(ctx *fiber.Ctx) error {
		if !csrfProtectedMethods[ctx.Method()] {
			return ctx.Next()
		}
		for _, pattern := range exemptPaths {
			if ok, _ := path.Match(pattern, ctx.Path()); ok {
				return ctx.Next()
			}
		}

		token, ok := firstCSRFHeader(ctx.GetReqHeaders())
		if !ok || len(token) < params.CSRFHeaderMinLength {
			audit.RecordCSRFRejected(ctx.Context(), audit.RequestRecord{
				IP:        ratelimit.ClientIP(ctx),
				Path:      ctx.Path(),
				Method:    ctx.Method(),
				UserAgent: ctx.Get(fiber.HeaderUserAgent),
				Reason:    "missing or malformed CSRF header",
			})
			return fiber.NewError(fiber.StatusForbidden, "Invalid CSRF token")
		}
		return ctx.Next()
	}
}

// firstCSRFHeader returns the value of the first present header variant.
// A multi-valued header yields no token.
func firstCSRFHeader(headers map[string][]string) (string, bool) {
	for _, name := range csrf.HeaderNames {
		for key, values := range headers {
			if !strings.EqualFold(key, name) {
				continue
			}
			if len(values) != 1 {
				return "", false
			}
			return values[0], true
		}
	}
	return "", false
}
