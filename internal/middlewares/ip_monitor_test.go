package middlewares

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func newTestMonitor(now *time.Time) *IPMonitor {
	m := NewIPMonitor(100, 15*time.Minute)
	m.nowFn = func() time.Time { return *now }
	return m
}

func TestIPMonitorBlocksAfterThreshold(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&now)

	for i := 1; i <= 101; i++ {
		if _, blocked := m.track("198.51.100.7"); blocked {
			t.Fatalf("request %d unexpectedly blocked", i)
		}
	}
	if _, blocked := m.track("198.51.100.7"); !blocked {
		t.Fatal("request 102 should be blocked")
	}
}

func TestIPMonitorBlockExpires(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&now)

	for i := 0; i < 101; i++ {
		m.track("198.51.100.7")
	}
	if _, blocked := m.track("198.51.100.7"); !blocked {
		t.Fatal("address should be blocked")
	}

	now = now.Add(15*time.Minute + time.Second)
	count, blocked := m.track("198.51.100.7")
	if blocked {
		t.Error("block should have expired")
	}
	if count != 1 {
		t.Errorf("count after expiry = %d, want 1", count)
	}
}

func TestIPMonitorCountResetsAfterWindow(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&now)

	for i := 0; i < 50; i++ {
		m.track("198.51.100.7")
	}
	now = now.Add(61 * time.Second)
	count, blocked := m.track("198.51.100.7")
	if blocked || count != 1 {
		t.Errorf("count = %d blocked = %v, want fresh window", count, blocked)
	}
}

func TestIPMonitorAddressesAreIndependent(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&now)

	for i := 0; i < 101; i++ {
		m.track("198.51.100.7")
	}
	if _, blocked := m.track("203.0.113.5"); blocked {
		t.Error("unrelated address should not be blocked")
	}
}

func TestIPMonitorSweepDropsStaleRecords(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&now)

	m.track("198.51.100.7")
	now = now.Add(16 * time.Minute)
	m.sweepStale()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) != 0 {
		t.Errorf("records = %d, want 0", len(m.records))
	}
}

func TestIPMonitorHandlerAttachesSecurityContext(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&now)

	app := fiber.New()
	app.Use(m.Handler())
	app.Get("/", func(ctx *fiber.Ctx) error {
		sc, ok := GetSecurityContext(ctx)
		if !ok {
			t.Error("security context not attached")
		}
		if sc.RequestID == "" {
			t.Error("request id empty")
		}
		if sc.ClientIP != "203.0.113.9" {
			t.Errorf("clientIP = %q", sc.ClientIP)
		}
		return ctx.SendString("ok")
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if _, err := app.Test(req); err != nil {
		t.Fatal(err)
	}
}

func TestIPMonitorHandlerRejectsBlockedAddress(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&now)
	for i := 0; i < 101; i++ {
		m.track("0.0.0.0")
	}

	app := fiber.New()
	app.Use(m.Handler())
	app.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}
