package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/telegrid/backend/internal/domain"
	"github.com/telegrid/backend/internal/response"
	"github.com/telegrid/backend/internal/security"
	"github.com/telegrid/backend/internal/service"
)

const (
	bearerPrefix = "Bearer "
	apiKeyPrefix = "ApiKey "

	APIKeyHeader    = "X-API-Key"
	APIKeyQueryName = "api_key"
	CsrfHeader      = "X-CSRF-Token"
	csrfBodyField   = "csrfToken"

	userKey    = "auth_user"
	sessionKey = "auth_session"
)

// AuthGateway is the per-request entry point of the auth control plane. It
// extracts the credential (bearer token or API key), attaches the resolved
// identity to the request, and enforces CSRF on state-changing verbs for
// browser sessions.
type AuthGateway struct {
	sessions *service.SessionManager
	apiKeys  *service.APIKeyService
	csrf     *security.CsrfService
	logger   *slog.Logger
}

type AuthGatewayConfig struct {
	Sessions *service.SessionManager
	APIKeys  *service.APIKeyService
	Csrf     *security.CsrfService
	Logger   *slog.Logger
}

func NewAuthGateway(cfg AuthGatewayConfig) *AuthGateway {
	return &AuthGateway{
		sessions: cfg.Sessions,
		apiKeys:  cfg.APIKeys,
		csrf:     cfg.Csrf,
		logger:   cfg.Logger,
	}
}

// Require authenticates the request via bearer session or API key. perms
// apply to the API-key flow only; session identities carry the full user.
func (g *AuthGateway) Require(perms ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)

		if strings.HasPrefix(authz, bearerPrefix) {
			return g.requireSession(c, strings.TrimPrefix(authz, bearerPrefix))
		}
		if key := extractAPIKey(c, authz); key != "" {
			return g.requireAPIKey(c, key, perms)
		}

		return response.Unauthorized(c, "authentication required")
	}
}

func extractAPIKey(c *fiber.Ctx, authz string) string {
	if strings.HasPrefix(authz, apiKeyPrefix) {
		return strings.TrimPrefix(authz, apiKeyPrefix)
	}
	if key := c.Get(APIKeyHeader); key != "" {
		return key
	}
	return c.Query(APIKeyQueryName)
}

func (g *AuthGateway) requireSession(c *fiber.Ctx, accessToken string) error {
	rctx := service.RequestContext{
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}

	result, err := g.sessions.Validate(c.Context(), accessToken, rctx)
	if err != nil {
		g.logger.Error("session validation failed", "error", err)
		return response.InternalError(c)
	}
	if !result.IsValid {
		return response.Unauthorized(c, result.Reason)
	}

	SetUserInContext(c, result.User)
	SetSessionInContext(c, result.Session)

	if isMutating(c.Method()) {
		token := extractCsrfToken(c)
		if !g.csrf.Validate(c.Context(), token, result.Session.ID) {
			g.logger.Warn("csrf validation failed",
				"session_id", result.Session.ID,
				"has_token", token != "",
			)
			return response.CsrfRejected(c)
		}
	} else if c.Method() == fiber.MethodGet {
		if token, err := g.csrf.GetOrCreate(c.Context(), result.Session.ID); err == nil {
			c.Set(CsrfHeader, token)
		} else {
			g.logger.Warn("failed to issue csrf token", "session_id", result.Session.ID, "error", err)
		}
	}

	return c.Next()
}

func (g *AuthGateway) requireAPIKey(c *fiber.Ctx, rawKey string, perms []string) error {
	identity, err := g.apiKeys.Validate(c.Context(), rawKey, perms...)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrForbidden):
			return response.Forbidden(c, "insufficient permissions")
		case errors.Is(err, domain.ErrUnauthorized),
			errors.Is(err, domain.ErrKeyExpired),
			errors.Is(err, domain.ErrKeyRevoked),
			errors.Is(err, domain.ErrUserInactive):
			return response.Unauthorized(c, "invalid api key")
		default:
			g.logger.Error("api key validation failed", "error", err)
			return response.InternalError(c)
		}
	}

	SetUserInContext(c, identity.User)
	return c.Next()
}

func isMutating(method string) bool {
	switch method {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		return true
	}
	return false
}

func extractCsrfToken(c *fiber.Ctx) string {
	if token := c.Get(CsrfHeader); token != "" {
		return token
	}
	if token := c.FormValue(csrfBodyField); token != "" {
		return token
	}
	if strings.Contains(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		var body struct {
			CsrfToken string `json:"csrfToken"`
		}
		if err := json.Unmarshal(c.Body(), &body); err == nil {
			return body.CsrfToken
		}
	}
	return ""
}

func SetUserInContext(c *fiber.Ctx, user *domain.User) {
	c.Locals(userKey, user)
}

func GetUserFromContext(c *fiber.Ctx) *domain.User {
	if user, ok := c.Locals(userKey).(*domain.User); ok {
		return user
	}
	return nil
}

func SetSessionInContext(c *fiber.Ctx, session *domain.Session) {
	c.Locals(sessionKey, session)
}

func GetSessionFromContext(c *fiber.Ctx) *domain.Session {
	if session, ok := c.Locals(sessionKey).(*domain.Session); ok {
		return session
	}
	return nil
}
