package ratelimit

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cast"
)

// UserIDKey is the request-local under which the identity middleware stores
// the authenticated caller, when one is known.
const UserIDKey = "userID"

// RolesKey is the request-local holding the caller's role names.
const RolesKey = "roles"

// KeyFunc derives the counter key for a request.
type KeyFunc func(ctx *fiber.Ctx) string

// Rule names a rate limit: a fixed window, a hit limit, the rejection
// message and the key derivation strategy. Bypass, when set, exempts a
// request from the rule entirely. Escalating rules halve the effective
// limit for each strike a key has accumulated by violating the rule.
type Rule struct {
	Name       string
	Window     time.Duration
	Limit      int
	Message    string
	Key        KeyFunc
	Bypass     func(ctx *fiber.Ctx) bool
	Escalating bool
}

// ClientIP resolves the caller address, preferring proxy headers in the
// order x-forwarded-for, x-real-ip, then the transport remote address.
func ClientIP(ctx *fiber.Ctx) string {
	if xff := ctx.Get(fiber.HeaderXForwardedFor); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xrip := ctx.Get("X-Real-Ip"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return ctx.IP()
}

func userID(ctx *fiber.Ctx) string {
	return cast.ToString(ctx.Locals(UserIDKey))
}

// KeyIP keys by source address alone.
func KeyIP(prefix string) KeyFunc {
	return func(ctx *fiber.Ctx) string {
		return prefix + ":" + ClientIP(ctx)
	}
}

// KeyUser keys by authenticated user, falling back to the source address
// for anonymous callers.
func KeyUser(prefix string) KeyFunc {
	return func(ctx *fiber.Ctx) string {
		if uid := userID(ctx); uid != "" {
			return prefix + ":user:" + uid
		}
		return prefix + ":" + ClientIP(ctx)
	}
}

// KeyUserIP keys by user and source address combined.
func KeyUserIP(prefix string) KeyFunc {
	return func(ctx *fiber.Ctx) string {
		return prefix + ":" + userID(ctx) + ":" + ClientIP(ctx)
	}
}

// KeyHandlerUserIP keys by route path, user and source address, for burst
// protection scoped to a single handler.
func KeyHandlerUserIP(prefix string) KeyFunc {
	return func(ctx *fiber.Ctx) string {
		return prefix + ":" + ctx.Route().Path + ":" + userID(ctx) + ":" + ClientIP(ctx)
	}
}

// KeyEndpoint keys by an explicit endpoint name, user and source address.
func KeyEndpoint(name string) KeyFunc {
	return func(ctx *fiber.Ctx) string {
		return "endpoint:" + name + ":" + userID(ctx) + ":" + ClientIP(ctx)
	}
}

// HasRole reports whether the request carries the given role.
func HasRole(ctx *fiber.Ctx, role string) bool {
	roles, _ := ctx.Locals(RolesKey).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Predefined rules for the endpoint classes of the platform.
var (
	AuthRule = Rule{
		Name:    "auth",
		Window:  15 * time.Minute,
		Limit:   5,
		Message: "Too many authentication attempts, please try again later",
		Key:     KeyIP("auth"),
	}
	PublicRule = Rule{
		Name:    "public",
		Window:  time.Minute,
		Limit:   100,
		Message: "Too many requests, please slow down",
		Key:     KeyIP("public"),
	}
	UserRule = Rule{
		Name:    "user",
		Window:  time.Hour,
		Limit:   1000,
		Message: "Request quota exceeded, please try again later",
		Key:     KeyUser("user"),
	}
	UploadRule = Rule{
		Name:    "upload",
		Window:  time.Hour,
		Limit:   20,
		Message: "Too many uploads, please try again later",
		Key:     KeyUser("upload"),
	}
	SearchRule = Rule{
		Name:    "search",
		Window:  time.Minute,
		Limit:   30,
		Message: "Too many search requests, please slow down",
		Key:     KeyUserIP("search"),
	}
	ReportRule = Rule{
		Name:    "report",
		Window:  time.Hour,
		Limit:   10,
		Message: "Too many report requests, please try again later",
		Key:     KeyUser("report"),
	}
	AdminRule = Rule{
		Name:    "admin",
		Window:  time.Minute,
		Limit:   30,
		Message: "Too many admin requests, please slow down",
		Key:     KeyUserIP("admin"),
		Bypass:  func(ctx *fiber.Ctx) bool { return HasRole(ctx, "superadmin") },
	}
	BurstRule = Rule{
		Name:    "burst",
		Window:  time.Second,
		Limit:   10,
		Message: "Request burst detected, please slow down",
		Key:     KeyHandlerUserIP("burst"),
	}
	ProgressiveRule = Rule{
		Name:       "progressive",
		Window:     time.Minute,
		Limit:      60,
		Message:    "Repeated rate limit violations, please back off",
		Key:        KeyIP("progressive"),
		Escalating: true,
	}
)

// EndpointRule builds a named per-endpoint throttle.
func EndpointRule(name string, window time.Duration, limit int) Rule {
	return Rule{
		Name:    name,
		Window:  window,
		Limit:   limit,
		Message: "Too many requests to this endpoint, please try again later",
		Key:     KeyEndpoint(name),
	}
}
