package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hrkit/secgate/internal/audit"
	"github.com/hrkit/secgate/internal/middlewares"
	"github.com/hrkit/secgate/internal/middlewares/sessions"
	"github.com/hrkit/secgate/internal/security/csrf"
	"github.com/hrkit/secgate/internal/users"
	"github.com/hrkit/secgate/model"
)

type UserService interface {
	CreateUser(ctx context.Context, opts users.CreateUserOptions) (*model.User, error)
	Authenticate(ctx context.Context, identifier, password string) (*model.User, error)
	UpdatePassword(ctx context.Context, userID uint, currentPassword, newPassword string) error
	IsPasswordExpired(user *model.User) bool
}

type AuthHandler struct {
	userService UserService
	csrfManager *csrf.Manager
}

type loginRequest struct {
	Username string `json:"username"` // username or email
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type loginResponse struct {
	User      UserInfoResponse `json:"user"`
	CSRFToken string           `json:"csrfToken"`
}

func requestRecord(ctx *fiber.Ctx) audit.RequestRecord {
	rec := audit.RequestRecord{
		IP:        ctx.IP(),
		Path:      ctx.Path(),
		Method:    ctx.Method(),
		UserAgent: ctx.Get(fiber.HeaderUserAgent),
	}
	if secCtx, ok := middlewares.GetSecurityContext(ctx); ok {
		rec.IP = secCtx.ClientIP
		rec.RequestID = secCtx.RequestID
	}
	return rec
}

func (h *AuthHandler) PostLogin(ctx *fiber.Ctx) error {
	var req loginRequest
	if err := ctx.BodyParser(&req); err != nil || req.Username == "" || req.Password == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse(fiber.StatusBadRequest, "Missing credentials"),
		)
	}

	user, err := h.userService.Authenticate(ctx.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			rec := requestRecord(ctx)
			rec.Username = req.Username
			rec.Reason = "invalid credentials"
			audit.RecordLogin(ctx.Context(), false, rec)
			return ctx.Status(fiber.StatusUnauthorized).JSON(
				NewErrorResponse(fiber.StatusUnauthorized, "Invalid username or password"),
			)
		}
		slog.Error("Authenticate failed", "username", req.Username, "error", err)
		return ctx.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse(fiber.StatusInternalServerError, "Internal server error"),
		)
	}

	// regenerate the session id on login so a pre-login cookie cannot be fixed
	session := sessions.Get(ctx)
	if err := session.Reset(sessions.SessionData{
		IP:                ctx.IP(),
		UserID:            user.ID,
		Username:          user.Username,
		LoginTime:         ctx.Context().Time(),
		PasswordChangedAt: user.PasswordChangedAt,
	}); err != nil {
		slog.Error("Could not reset session", "error", err)
		return ctx.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse(fiber.StatusInternalServerError, "Internal server error"),
		)
	}
	token := h.csrfManager.Generate(session.ID())

	rec := requestRecord(ctx)
	rec.UserID = user.ID
	rec.Username = user.Username
	audit.RecordLogin(ctx.Context(), true, rec)

	ctx.Set("X-CSRF-Token", token)
	ctx.Set("X-XSRF-Token", token)
	return ctx.Status(fiber.StatusOK).JSON(NewDataResponse(loginResponse{
		User: UserInfoResponse{
			UserID:          user.ID,
			Username:        user.Username,
			FullName:        user.FullName,
			Email:           user.Email,
			PasswordExpired: h.userService.IsPasswordExpired(user),
		},
		CSRFToken: token,
	}))
}

func (h *AuthHandler) PostRegister(ctx *fiber.Ctx) error {
	var req registerRequest
	if err := ctx.BodyParser(&req); err != nil || req.Username == "" || req.Email == "" || req.Password == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse(fiber.StatusBadRequest, "Missing required fields"),
		)
	}

	user, err := h.userService.CreateUser(ctx.Context(), users.CreateUserOptions{
		Username: req.Username,
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrWeakPassword):
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(
				NewErrorResponse(fiber.StatusUnprocessableEntity, "Password does not meet the policy"),
			)
		case errors.Is(err, users.ErrUsernameTaken):
			return ctx.Status(fiber.StatusConflict).JSON(
				NewErrorResponse(fiber.StatusConflict, "Username already taken"),
			)
		case errors.Is(err, users.ErrEmailRegistered):
			return ctx.Status(fiber.StatusConflict).JSON(
				NewErrorResponse(fiber.StatusConflict, "Email already registered"),
			)
		}
		slog.Error("Create user failed", "username", req.Username, "error", err)
		return ctx.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse(fiber.StatusInternalServerError, "Internal server error"),
		)
	}

	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(UserInfoResponse{
		UserID:   user.ID,
		Username: user.Username,
		FullName: user.FullName,
		Email:    user.Email,
	}))
}

func (h *AuthHandler) PostChangePassword(ctx *fiber.Ctx) error {
	session := sessions.Get(ctx)
	if !session.IsLoggedIn() {
		return ctx.Status(fiber.StatusUnauthorized).JSON(
			NewErrorResponse(fiber.StatusUnauthorized, "Authentication required"),
		)
	}

	// the chain guard only shape-checks the header; with the session known,
	// verify the token is actually bound to it
	if !h.csrfManager.VerifyHeaders(ctx.GetReqHeaders(), session.ID()) {
		rec := requestRecord(ctx)
		rec.UserID = session.UserID
		rec.Username = session.Username
		rec.Reason = "token not bound to session"
		audit.RecordCSRFRejected(ctx.Context(), rec)
		return ctx.Status(fiber.StatusForbidden).JSON(
			NewErrorResponse(fiber.StatusForbidden, "Invalid CSRF token"),
		)
	}

	var req changePasswordRequest
	if err := ctx.BodyParser(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse(fiber.StatusBadRequest, "Missing required fields"),
		)
	}

	err := h.userService.UpdatePassword(ctx.Context(), session.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidCredentials):
			return ctx.Status(fiber.StatusForbidden).JSON(
				NewErrorResponse(fiber.StatusForbidden, "Current password is incorrect"),
			)
		case errors.Is(err, users.ErrWeakPassword):
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(
				NewErrorResponse(fiber.StatusUnprocessableEntity, "Password does not meet the policy"),
			)
		case errors.Is(err, users.ErrPasswordReused):
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(
				NewErrorResponse(fiber.StatusUnprocessableEntity, "Password was used recently"),
			)
		}
		slog.Error("Update password failed", "userID", session.UserID, "error", err)
		return ctx.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse(fiber.StatusInternalServerError, "Internal server error"),
		)
	}

	data := session.SessionData
	data.PasswordChangedAt = ctx.Context().Time()
	session.Save(data)
	token := h.csrfManager.Refresh(session.ID())

	rec := requestRecord(ctx)
	rec.UserID = session.UserID
	rec.Username = session.Username
	audit.RecordPasswordChanged(ctx.Context(), rec)

	ctx.Set("X-CSRF-Token", token)
	ctx.Set("X-XSRF-Token", token)
	return ctx.Status(fiber.StatusOK).JSON(NewDataResponse(fiber.Map{
		"csrfToken": token,
	}))
}

func (h *AuthHandler) PostLogout(ctx *fiber.Ctx) error {
	session := sessions.Get(ctx)
	h.csrfManager.Invalidate(session.ID())
	if err := session.Destroy(); err != nil {
		slog.Error("Could not destroy session", "error", err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func NewAuthHandler(userService UserService, csrfManager *csrf.Manager) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		csrfManager: csrfManager,
	}
}
