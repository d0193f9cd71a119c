package middlewares

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newGuardApp() *fiber.App {
	app := fiber.New()
	app.Use(RequestGuard())
	app.All("/submit", func(ctx *fiber.Ctx) error {
		return ctx.SendString("ok")
	})
	return app
}

func TestRequestGuardRejectsUnknownMethod(t *testing.T) {
	app := newGuardApp()
	resp, err := app.Test(httptest.NewRequest("TRACE", "/submit", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestRequestGuardRejectsOversizedBody(t *testing.T) {
	app := fiber.New(fiber.Config{BodyLimit: 20 * 1024 * 1024})
	app.Use(RequestGuard())
	app.Post("/submit", func(ctx *fiber.Ctx) error {
		return ctx.SendString("ok")
	})
	body := `{"blob":"` + strings.Repeat("a", 11*1024*1024) + `"}`
	req := httptest.NewRequest("POST", "/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestRequestGuardRejectsUnexpectedContentType(t *testing.T) {
	app := newGuardApp()
	req := httptest.NewRequest("POST", "/submit", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}

func TestRequestGuardAllowsJSONBody(t *testing.T) {
	app := newGuardApp()
	req := httptest.NewRequest("POST", "/submit", strings.NewReader(`{"name":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "integration-test/1.0")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRequestGuardRejectsXSSInURL(t *testing.T) {
	app := newGuardApp()
	req := httptest.NewRequest("GET", "/submit?q=<script>alert(1)</script>", nil)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRequestGuardRejectsXSSInHeader(t *testing.T) {
	app := newGuardApp()
	req := httptest.NewRequest("GET", "/submit", nil)
	req.Header.Set("X-Custom-Note", "<script>alert(document.cookie)</script>")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRequestGuardDoesNotBlockSpoofHeaders(t *testing.T) {
	app := newGuardApp()
	req := httptest.NewRequest("GET", "/submit", nil)
	req.Header.Set("X-Forwarded-Host", "evil.example.com")
	req.Header.Set("User-Agent", "x")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
