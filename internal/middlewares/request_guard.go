package middlewares

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hrkit/secgate/internal/security/ratelimit"
	"github.com/hrkit/secgate/internal/security/scan"
	"github.com/hrkit/secgate/params"
)

var allowedMethods = map[string]bool{
	fiber.MethodGet:     true,
	fiber.MethodPost:    true,
	fiber.MethodPut:     true,
	fiber.MethodPatch:   true,
	fiber.MethodDelete:  true,
	fiber.MethodOptions: true,
}

var bodyMethods = map[string]bool{
	fiber.MethodPost:  true,
	fiber.MethodPut:   true,
	fiber.MethodPatch: true,
}

// spoofHeaders are rewrite headers occasionally planted by attackers to
// confuse upstream routing. Their presence is logged, never blocked.
var spoofHeaders = []string{"X-Forwarded-Host", "X-Original-Url", "X-Rewrite-Url"}

// RequestGuard rejects structurally malformed requests before any state is
// touched: unknown methods (405), oversized bodies (413), unexpected content
// types (415) and URLs or header values carrying XSS payloads (400).
// Suspicious but inconclusive signals are logged only.
func RequestGuard() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if !allowedMethods[ctx.Method()] {
			return fiber.NewError(fiber.StatusMethodNotAllowed, "Method not allowed")
		}

		if ctx.Request().Header.ContentLength() > params.ServerBodyLimit {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "Request body too large")
		}

		if bodyMethods[ctx.Method()] && len(ctx.Body()) > 0 {
			contentType := ctx.Get(fiber.HeaderContentType)
			if !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) &&
				!strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
				return fiber.NewError(fiber.StatusUnsupportedMediaType, "Unsupported content type")
			}
		}

		if scan.ContainsXSS(ctx.OriginalURL()) || headersContainXSS(ctx.GetReqHeaders()) {
			return fiber.NewError(fiber.StatusBadRequest, "Bad Request")
		}

		userAgent := ctx.Get(fiber.HeaderUserAgent)
		if len(userAgent) < 10 {
			slog.Warn("Missing or implausible user agent",
				"ip", ratelimit.ClientIP(ctx), "path", ctx.Path(), "userAgent", userAgent)
		}
		for _, name := range spoofHeaders {
			if ctx.Get(name) != "" {
				slog.Warn("Spoofing header present",
					"header", name, "ip", ratelimit.ClientIP(ctx), "path", ctx.Path())
			}
		}

		return ctx.Next()
	}
}

func headersContainXSS(headers map[string][]string) bool {
	for _, values := range headers {
		for _, value := range values {
			if scan.ContainsXSS(value) {
				return true
			}
		}
	}
	return false
}
