package handler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/telegrid/backend/internal/domain"
	"github.com/telegrid/backend/internal/middleware"
	"github.com/telegrid/backend/internal/password"
	"github.com/telegrid/backend/internal/response"
	"github.com/telegrid/backend/internal/security"
	"github.com/telegrid/backend/internal/service"
)

type AuthHandler struct {
	sessions *service.SessionManager
	users    domain.UserRepository
	audit    *security.AuditService
	csrf     *security.CsrfService
	logger   *slog.Logger
}

type AuthHandlerConfig struct {
	Sessions *service.SessionManager
	Users    domain.UserRepository
	Audit    *security.AuditService
	Csrf     *security.CsrfService
	Logger   *slog.Logger
}

func NewAuthHandler(cfg AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		sessions: cfg.Sessions,
		users:    cfg.Users,
		audit:    cfg.Audit,
		csrf:     cfg.Csrf,
		logger:   cfg.Logger,
	}
}

// Register mounts the unauthenticated credential routes. rateLimit guards
// them with the tighter per-IP budget.
func (h *AuthHandler) Register(app *fiber.App, rateLimit fiber.Handler) {
	auth := app.Group("/auth", rateLimit)
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
}

// RegisterProtected mounts the session-bound routes behind the gateway.
func (h *AuthHandler) RegisterProtected(router fiber.Router) {
	router.Post("/auth/logout", h.Logout)
	router.Post("/auth/logout-all", h.LogoutAll)
	router.Get("/auth/sessions", h.ListSessions)
	router.Delete("/auth/sessions/:id", h.RevokeSession)
	router.Get("/auth/csrf", h.GetCsrfToken)
	router.Get("/auth/validate", h.ValidateSession)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresIn    int64           `json:"expiresIn"`
	Session      sessionResponse `json:"session"`
}

type sessionResponse struct {
	SessionID      string    `json:"sessionId"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		SessionID:      s.ID,
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
	}
}

func requestContext(c *fiber.Ctx) service.RequestContext {
	return service.RequestContext{
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, MsgInvalidRequestBody)
	}
	if req.Username == "" || req.Password == "" {
		return response.BadRequest(c, "username and password are required")
	}

	rctx := requestContext(c)
	ctx := c.Context()

	user, err := h.users.FindByUsername(ctx, req.Username)
	if errors.Is(err, domain.ErrNotFound) {
		return response.Unauthorized(c, MsgInvalidCredentials)
	}
	if err != nil {
		h.logger.Error("user lookup failed", "error", err)
		return response.InternalError(c)
	}

	if !user.IsActive || password.Verify(user.PasswordHash, req.Password) != nil {
		if _, err := h.audit.IncrementFailedAttempts(ctx, user.ID, rctx.IPAddress, rctx.UserAgent); err != nil {
			h.logger.Warn("failed attempt tracking unavailable", "user_id", user.ID, "error", err)
		}
		if _, err := h.audit.DetectFailedLoginAttempts(ctx, user.ID, rctx.IPAddress); err != nil {
			h.logger.Warn("brute force detection unavailable", "user_id", user.ID, "error", err)
		}
		return response.Unauthorized(c, MsgInvalidCredentials)
	}

	if err := h.audit.ResetFailedAttempts(ctx, user.ID, rctx.IPAddress); err != nil {
		h.logger.Warn("failed attempt reset unavailable", "user_id", user.ID, "error", err)
	}

	result, err := h.sessions.Login(ctx, user, rctx)
	if err != nil {
		h.logger.Error("login failed", "user_id", user.ID, "error", err)
		return response.InternalError(c)
	}

	h.audit.LogEvent(ctx, domain.SecurityEvent{
		UserID:    user.ID,
		Kind:      domain.EventLoginSuccess,
		Severity:  domain.SeverityLow,
		IPAddress: rctx.IPAddress,
		UserAgent: rctx.UserAgent,
		SessionID: result.Session.ID,
	})
	if _, err := h.audit.AnalyzeLoginPattern(ctx, user.ID, rctx.IPAddress, rctx.UserAgent, result.Session.ID); err != nil {
		h.logger.Warn("login pattern analysis unavailable", "user_id", user.ID, "error", err)
	}

	return response.OK(c, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		Session:      toSessionResponse(result.Session),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, MsgInvalidRequestBody)
	}
	if req.RefreshToken == "" {
		return response.BadRequest(c, "refreshToken is required")
	}

	result, err := h.sessions.RefreshWithRotation(c.Context(), req.RefreshToken, requestContext(c))
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrSessionExpired) {
		return response.Unauthorized(c, "invalid or expired refresh token")
	}
	if err != nil {
		h.logger.Error("token refresh failed", "error", err)
		return response.InternalError(c)
	}

	return response.OK(c, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		Session:      toSessionResponse(result.Session),
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	session := middleware.GetSessionFromContext(c)
	if session == nil {
		return response.Unauthorized(c, MsgNotAuthenticated)
	}

	if err := h.sessions.Invalidate(c.Context(), session.ID, domain.ReasonManualLogout); err != nil {
		h.logger.Error("logout failed", "session_id", session.ID, "error", err)
		return HandleDomainError(c, err)
	}
	return response.OK(c, fiber.Map{"loggedOut": true})
}

func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	user := middleware.GetUserFromContext(c)
	if user == nil {
		return response.Unauthorized(c, MsgNotAuthenticated)
	}

	if err := h.sessions.InvalidateAll(c.Context(), user.ID, domain.ReasonManualLogout); err != nil {
		h.logger.Error("logout-all failed", "user_id", user.ID, "error", err)
		return HandleDomainError(c, err)
	}
	return response.OK(c, fiber.Map{"loggedOut": true})
}

func (h *AuthHandler) ListSessions(c *fiber.Ctx) error {
	user := middleware.GetUserFromContext(c)
	if user == nil {
		return response.Unauthorized(c, MsgNotAuthenticated)
	}

	sessions, err := h.sessions.ListActiveSessions(c.Context(), user.ID)
	if err != nil {
		h.logger.Error("session listing failed", "user_id", user.ID, "error", err)
		return response.InternalError(c)
	}

	items := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		items = append(items, toSessionResponse(&sessions[i]))
	}
	return response.OK(c, items)
}

func (h *AuthHandler) RevokeSession(c *fiber.Ctx) error {
	user := middleware.GetUserFromContext(c)
	if user == nil {
		return response.Unauthorized(c, MsgNotAuthenticated)
	}

	sessionID := c.Params("id")
	sessions, err := h.sessions.ListActiveSessions(c.Context(), user.ID)
	if err != nil {
		h.logger.Error("session lookup failed", "user_id", user.ID, "error", err)
		return response.InternalError(c)
	}

	owned := false
	for _, s := range sessions {
		if s.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		return response.NotFound(c, MsgSessionNotFound)
	}

	if err := h.sessions.Invalidate(c.Context(), sessionID, domain.ReasonManualRevocation); err != nil {
		h.logger.Error("session revocation failed", "session_id", sessionID, "error", err)
		return HandleDomainError(c, err)
	}
	return response.OK(c, fiber.Map{"revoked": true})
}

func (h *AuthHandler) GetCsrfToken(c *fiber.Ctx) error {
	session := middleware.GetSessionFromContext(c)
	if session == nil {
		return response.Unauthorized(c, MsgNotAuthenticated)
	}

	token, err := h.csrf.GetOrCreate(c.Context(), session.ID)
	if err != nil {
		h.logger.Error("csrf issuance failed", "session_id", session.ID, "error", err)
		return response.InternalError(c)
	}
	return response.OK(c, fiber.Map{"csrfToken": token})
}

func (h *AuthHandler) ValidateSession(c *fiber.Ctx) error {
	user := middleware.GetUserFromContext(c)
	session := middleware.GetSessionFromContext(c)
	if user == nil || session == nil {
		return response.Unauthorized(c, MsgNotAuthenticated)
	}

	return response.OK(c, fiber.Map{
		"valid":    true,
		"userId":   user.ID,
		"username": user.Username,
		"session":  toSessionResponse(session),
	})
}
