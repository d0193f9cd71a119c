package ratelimit

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/hrkit/secgate/internal/audit"
	"github.com/hrkit/secgate/params"
)

// effectiveLimit halves the base limit per accumulated strike, never
// dropping below one admitted request per window.
func effectiveLimit(limit, strikes int) int {
	for ; strikes > 0 && limit > 1; strikes-- {
		limit /= 2
	}
	if limit < 1 {
		return 1
	}
	return limit
}

// Guard returns a handler enforcing rule against the shared limiter.
// Over-limit requests are rejected with 429 and the rule's message.
func Guard(limiter *Limiter, rule Rule) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if rule.Bypass != nil && rule.Bypass(ctx) {
			return ctx.Next()
		}

		key := rule.Key(ctx)
		limit := rule.Limit
		if rule.Escalating {
			limit = effectiveLimit(rule.Limit, limiter.Strikes(key))
		}

		hits, secondsToReset := limiter.Hit(key, rule.Window)
		if hits > limit {
			if rule.Escalating {
				limiter.Strike(key, params.ProgressiveStrikeWindow)
			}
			slog.Warn("Rate limit exceeded",
				"rule", rule.Name,
				"ip", ClientIP(ctx),
				"path", ctx.Path(),
				"hits", hits,
			)
			audit.RecordRateLimited(ctx.Context(), audit.RequestRecord{
				IP:        ClientIP(ctx),
				Path:      ctx.Path(),
				Method:    ctx.Method(),
				UserAgent: ctx.Get(fiber.HeaderUserAgent),
				Reason:    rule.Name,
			})
			ctx.Set(fiber.HeaderRetryAfter, strconv.Itoa(secondsToReset))
			return fiber.NewError(fiber.StatusTooManyRequests, rule.Message)
		}
		return ctx.Next()
	}
}
