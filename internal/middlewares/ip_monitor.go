package middlewares

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hrkit/secgate/internal/audit"
	"github.com/hrkit/secgate/internal/common"
	"github.com/hrkit/secgate/internal/security/ratelimit"
	"github.com/hrkit/secgate/internal/security/scan"
	"github.com/hrkit/secgate/params"
)

// SecurityContextKey is the request-local holding the SecurityContext.
const SecurityContextKey = "securityContext"

// SecurityContext is attached to every monitored request for downstream use.
type SecurityContext struct {
	RequestID string
	ClientIP  string
	Timestamp time.Time
	UserAgent string
	Referer   string
}

// GetSecurityContext returns the context attached by the IP monitor, if any.
func GetSecurityContext(ctx *fiber.Ctx) (SecurityContext, bool) {
	sc, ok := ctx.Locals(SecurityContextKey).(SecurityContext)
	return sc, ok
}

type ipRecord struct {
	count    int
	lastSeen time.Time
}

// IPMonitor tracks request volume per client address and temporarily blocks
// addresses exceeding the per-minute threshold. Records expire after the
// block duration and are swept periodically.
type IPMonitor struct {
	mu            sync.Mutex
	records       map[string]*ipRecord
	maxPerMinute  int
	blockDuration time.Duration
	nowFn         func() time.Time
	sweeper       *common.Sweeper
}

func NewIPMonitor(maxPerMinute int, blockDuration time.Duration) *IPMonitor {
	if maxPerMinute <= 0 {
		maxPerMinute = params.SuspiciousIPMaxPerMinute
	}
	if blockDuration <= 0 {
		blockDuration = params.SuspiciousIPBlockDuration
	}
	m := &IPMonitor{
		records:       make(map[string]*ipRecord),
		maxPerMinute:  maxPerMinute,
		blockDuration: blockDuration,
		nowFn:         time.Now,
	}
	m.sweeper = common.NewSweeper(params.StateSweepInterval, m.sweepStale)
	return m
}

func (m *IPMonitor) Start() {
	m.sweeper.Start()
}

func (m *IPMonitor) Stop() {
	m.sweeper.Stop()
}

// track updates the record for ip and reports whether it is over threshold.
func (m *IPMonitor) track(ip string) (int, bool) {
	now := m.nowFn()

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ip]
	// a blocked address keeps its record untouched so the block expires a
	// fixed duration after the last counted request
	if ok && rec.count > m.maxPerMinute && now.Sub(rec.lastSeen) <= m.blockDuration {
		return rec.count, true
	}
	if !ok || now.Sub(rec.lastSeen) > params.SuspiciousIPWindow {
		m.records[ip] = &ipRecord{count: 1, lastSeen: now}
		return 1, false
	}
	rec.count++
	rec.lastSeen = now
	return rec.count, false
}

func (m *IPMonitor) sweepStale() {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	for ip, rec := range m.records {
		if now.Sub(rec.lastSeen) > m.blockDuration {
			delete(m.records, ip)
		}
	}
}

// Handler monitors every request, rejects blocked addresses with 429 and
// attaches the security context for downstream stages. Sensitive-path and
// URL-pattern hits are audit-logged without blocking.
func (m *IPMonitor) Handler() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		ip := ratelimit.ClientIP(ctx)
		count, blocked := m.track(ip)
		if blocked {
			slog.Warn("Blocked suspicious IP", "ip", ip, "count", count, "path", ctx.Path())
			audit.RecordIPBlocked(ctx.Context(), audit.RequestRecord{
				IP:        ip,
				Path:      ctx.Path(),
				Method:    ctx.Method(),
				UserAgent: ctx.Get(fiber.HeaderUserAgent),
				Reason:    "request rate over threshold",
			})
			return fiber.NewError(fiber.StatusTooManyRequests, "Too many requests")
		}

		sc := SecurityContext{
			RequestID: uuid.NewString(),
			ClientIP:  ip,
			Timestamp: m.nowFn(),
			UserAgent: ctx.Get(fiber.HeaderUserAgent),
			Referer:   ctx.Get(fiber.HeaderReferer),
		}
		ctx.Locals(SecurityContextKey, sc)

		m.logSensitiveAccess(ctx, sc)
		return ctx.Next()
	}
}

var sensitivePathPrefixes = []string{"/api/auth", "/api/admin", "/api/upload"}

func (m *IPMonitor) logSensitiveAccess(ctx *fiber.Ctx, sc SecurityContext) {
	path := ctx.Path()
	for _, prefix := range sensitivePathPrefixes {
		if strings.HasPrefix(path, prefix) {
			slog.Info("Sensitive path access",
				"requestId", sc.RequestID, "ip", sc.ClientIP, "method", ctx.Method(), "path", path)
			break
		}
	}
	if url := ctx.OriginalURL(); scan.ContainsInjection(url) || scan.ContainsXSS(url) {
		slog.Warn("Attack indicator in URL",
			"requestId", sc.RequestID, "ip", sc.ClientIP, "url", url)
		audit.RecordRequestBlocked(ctx.Context(), audit.RequestRecord{
			IP:        sc.ClientIP,
			Path:      path,
			Method:    ctx.Method(),
			UserAgent: sc.UserAgent,
			RequestID: sc.RequestID,
			Reason:    "attack indicator in URL",
		})
	}
}
