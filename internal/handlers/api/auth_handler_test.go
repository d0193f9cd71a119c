package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hrkit/secgate/internal/middlewares"
	"github.com/hrkit/secgate/internal/middlewares/sessions"
	"github.com/hrkit/secgate/internal/security/csrf"
	"github.com/hrkit/secgate/internal/users"
	"github.com/hrkit/secgate/model"
)

const fakePassword = "Tr0ub4dor&3xQz"

// fakeUserService serves one fixed account.
type fakeUserService struct {
	user    *model.User
	expired bool
}

func (s *fakeUserService) CreateUser(ctx context.Context, opts users.CreateUserOptions) (*model.User, error) {
	return s.user, nil
}

func (s *fakeUserService) Authenticate(ctx context.Context, identifier, password string) (*model.User, error) {
	if identifier == s.user.Username && password == fakePassword {
		return s.user, nil
	}
	return nil, users.ErrInvalidCredentials
}

func (s *fakeUserService) UpdatePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error {
	if currentPassword != fakePassword {
		return users.ErrInvalidCredentials
	}
	return nil
}

func (s *fakeUserService) IsPasswordExpired(user *model.User) bool {
	return s.expired
}

func newAuthTestApp() (*fiber.App, *csrf.Manager) {
	manager := csrf.NewManager(time.Hour)
	svc := &fakeUserService{user: &model.User{
		ID:       1,
		Username: "alice",
		FullName: "Alice Nguyen",
		Email:    "alice@example.com",
	}}
	handler := NewAuthHandler(svc, manager)

	app := fiber.New(fiber.Config{ErrorHandler: middlewares.ErrorHandler})
	app.Use(sessions.New(sessions.Config{
		SessionMaxAge:  time.Hour,
		CookieName:     "test_session",
		CookieHttpOnly: true,
	}))
	app.Post("/api/auth/login", handler.PostLogin)
	app.Post("/api/auth/change-password", handler.PostChangePassword)
	return app, manager
}

// login authenticates the fake account and returns the session cookie and
// the issued anti-forgery token.
func login(t *testing.T, app *fiber.App) (cookie, token string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/auth/login",
		strings.NewReader(`{"username":"alice","password":"`+fakePassword+`"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	setCookie := resp.Header.Get("Set-Cookie")
	if setCookie == "" {
		t.Fatal("login did not establish a session")
	}
	return strings.SplitN(setCookie, ";", 2)[0], resp.Header.Get("X-CSRF-Token")
}

func TestPostLoginIssuesTokenInBothHeaders(t *testing.T) {
	app, _ := newAuthTestApp()
	req := httptest.NewRequest("POST", "/api/auth/login",
		strings.NewReader(`{"username":"alice","password":"`+fakePassword+`"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	token := resp.Header.Get("X-CSRF-Token")
	if token == "" {
		t.Fatal("X-CSRF-Token not set")
	}
	if got := resp.Header.Get("X-XSRF-Token"); got != token {
		t.Errorf("X-XSRF-Token = %q, want the issued token", got)
	}

	var envelope APIResponse
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error != nil {
		t.Errorf("unexpected error in envelope: %+v", envelope.Error)
	}
}

func TestPostLoginRejectsBadCredentials(t *testing.T) {
	app, _ := newAuthTestApp()
	req := httptest.NewRequest("POST", "/api/auth/login",
		strings.NewReader(`{"username":"alice","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPostChangePasswordVerifiesTokenBinding(t *testing.T) {
	app, manager := newAuthTestApp()
	cookie, token := login(t, app)

	post := func(cookie, token string) int {
		req := httptest.NewRequest("POST", "/api/auth/change-password",
			strings.NewReader(`{"currentPassword":"`+fakePassword+`","newPassword":"N3w&Secret!Pass"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cookie", cookie)
		if token != "" {
			req.Header.Set("X-CSRF-Token", token)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode
	}

	if status := post(cookie, ""); status != fiber.StatusForbidden {
		t.Errorf("missing token: status = %d, want 403", status)
	}
	if status := post(cookie, strings.Repeat("d", 64)); status != fiber.StatusForbidden {
		t.Errorf("forged token: status = %d, want 403", status)
	}
	// plausible shape is not enough: a token bound to another session fails
	foreign := manager.Generate("some-other-session")
	if status := post(cookie, foreign); status != fiber.StatusForbidden {
		t.Errorf("foreign-session token: status = %d, want 403", status)
	}
	if status := post(cookie, token); status != fiber.StatusOK {
		t.Errorf("bound token: status = %d, want 200", status)
	}
}

func TestPostChangePasswordRotatesToken(t *testing.T) {
	app, _ := newAuthTestApp()
	cookie, token := login(t, app)

	req := httptest.NewRequest("POST", "/api/auth/change-password",
		strings.NewReader(`{"currentPassword":"`+fakePassword+`","newPassword":"N3w&Secret!Pass"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", cookie)
	req.Header.Set("X-CSRF-Token", token)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rotated := resp.Header.Get("X-CSRF-Token")
	if rotated == "" || rotated == token {
		t.Errorf("token not rotated: %q", rotated)
	}
	if got := resp.Header.Get("X-XSRF-Token"); got != rotated {
		t.Errorf("X-XSRF-Token = %q, want the rotated token", got)
	}
}

func TestPostChangePasswordRequiresSession(t *testing.T) {
	app, _ := newAuthTestApp()

	req := httptest.NewRequest("POST", "/api/auth/change-password",
		strings.NewReader(`{"currentPassword":"x","newPassword":"y"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
