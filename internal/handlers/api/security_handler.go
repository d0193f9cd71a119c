package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hrkit/secgate/internal/middlewares/sessions"
	"github.com/hrkit/secgate/internal/security/csrf"
)

type SecurityHandler struct {
	csrfManager *csrf.Manager
}

type csrfTokenResponse struct {
	CSRFToken string `json:"csrfToken"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

// GetCSRFToken issues a token bound to the caller's session. Issuing a new
// token invalidates any previously issued one for the same session.
func (h *SecurityHandler) GetCSRFToken(ctx *fiber.Ctx) error {
	session := sessions.Get(ctx)
	session.Save()

	token := h.csrfManager.Generate(session.ID())
	ctx.Set("X-CSRF-Token", token)
	ctx.Set("X-XSRF-Token", token)
	return ctx.Status(fiber.StatusOK).JSON(NewDataResponse(csrfTokenResponse{
		CSRFToken: token,
		ExpiresIn: int(h.csrfManager.TTL().Seconds()),
	}))
}

func NewSecurityHandler(csrfManager *csrf.Manager) *SecurityHandler {
	return &SecurityHandler{
		csrfManager: csrfManager,
	}
}
