package middlewares

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hrkit/secgate/internal/audit"
	"github.com/hrkit/secgate/internal/security/ratelimit"
	"github.com/hrkit/secgate/internal/security/scan"
)

// ThreatGuard runs the payload scanner over the request and rejects with 400
// when any finding is reported. Finding details go into the response body;
// the specific heuristics that fired are only logged server-side.
func ThreatGuard() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		findings := scan.Scan(scanRequest(ctx))
		if len(findings) == 0 {
			return ctx.Next()
		}

		requestID := ""
		if sc, ok := GetSecurityContext(ctx); ok {
			requestID = sc.RequestID
		}
		slog.Warn("Request rejected by threat scanner",
			"requestId", requestID,
			"ip", ratelimit.ClientIP(ctx),
			"path", ctx.Path(),
			"findings", strings.Join(findings, "; "),
		)
		audit.RecordRequestBlocked(ctx.Context(), audit.RequestRecord{
			IP:        ratelimit.ClientIP(ctx),
			Path:      ctx.Path(),
			Method:    ctx.Method(),
			UserAgent: ctx.Get(fiber.HeaderUserAgent),
			RequestID: requestID,
			Reason:    strings.Join(findings, "; "),
		})
		ctx.Locals(ValidationErrorsKey, findings)
		return fiber.NewError(fiber.StatusBadRequest, "Bad Request")
	}
}

// scanRequest builds the scanner's view of the request. A body that is not
// JSON is scanned as a raw string.
func scanRequest(ctx *fiber.Ctx) scan.Request {
	req := scan.Request{URL: ctx.OriginalURL()}

	if body := ctx.Body(); len(body) > 0 {
		var tree any
		if err := json.Unmarshal(body, &tree); err == nil {
			req.Body = tree
		} else {
			req.Body = string(body)
		}
	}

	query := make(map[string]any)
	for key, values := range ctx.Queries() {
		query[key] = values
	}
	if len(query) > 0 {
		req.Query = query
	}

	routeParams := make(map[string]any)
	for _, name := range ctx.Route().Params {
		routeParams[name] = ctx.Params(name)
	}
	if len(routeParams) > 0 {
		req.Params = routeParams
	}

	return req
}
