// Package service holds the auth control plane orchestration: the session
// lifecycle manager and API key validation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/telegrid/backend/internal/domain"
	"github.com/telegrid/backend/internal/security"
	"github.com/telegrid/backend/internal/token"
)

// IPEnforcementMode selects what happens when a request's IP does not match
// the one recorded on the session.
type IPEnforcementMode string

const (
	// IPEnforcementFlag records a security event but allows the request.
	IPEnforcementFlag IPEnforcementMode = "flag"
	// IPEnforcementBlock rejects requests from a mismatched address.
	IPEnforcementBlock IPEnforcementMode = "block"
)

// RequestContext carries the security context of the inbound request.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// LoginResult is returned from Login and RefreshWithRotation.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Session      *domain.Session
}

// ValidationResult reports the outcome of validating an access token.
type ValidationResult struct {
	IsValid bool
	Session *domain.Session
	User    *domain.User
	Reason  string
}

// SessionManager implements the session lifecycle: login, validation,
// refresh with rotation, logout, and the per-user concurrency cap.
type SessionManager struct {
	sessions      domain.SessionRepository
	users         domain.UserRepository
	issuer        *token.Issuer
	audit         *security.AuditService
	csrf          *security.CsrfService
	logger        *slog.Logger
	maxSessions   int
	ipEnforcement IPEnforcementMode
	now           func() time.Time
}

type SessionManagerConfig struct {
	Sessions      domain.SessionRepository
	Users         domain.UserRepository
	Issuer        *token.Issuer
	Audit         *security.AuditService
	Csrf          *security.CsrfService
	Logger        *slog.Logger
	MaxSessions   int
	IPEnforcement IPEnforcementMode
}

func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 3
	}
	mode := cfg.IPEnforcement
	if mode == "" {
		mode = IPEnforcementFlag
	}
	return &SessionManager{
		sessions:      cfg.Sessions,
		users:         cfg.Users,
		issuer:        cfg.Issuer,
		audit:         cfg.Audit,
		csrf:          cfg.Csrf,
		logger:        cfg.Logger,
		maxSessions:   maxSessions,
		ipEnforcement: mode,
		now:           time.Now,
	}
}

// Login issues a fresh access/refresh pair and creates a session for an
// already-authenticated user. The concurrency cap is enforced before the new
// session is persisted so that cap+1 sessions are never simultaneously
// active. Errors here are infrastructure failures, not security failures.
func (m *SessionManager) Login(ctx context.Context, user *domain.User, rctx RequestContext) (*LoginResult, error) {
	if err := m.enforceSessionCap(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("session cap enforcement: %w", err)
	}

	sessionID := uuid.New().String()
	accessToken, expiresAt, err := m.issuer.IssueAccess(user.ID, user.Username, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refreshToken, _, err := m.issuer.IssueRefresh(user.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	session, err := m.sessions.Create(ctx, domain.CreateSessionInput{
		ID:           sessionID,
		UserID:       user.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IPAddress:    rctx.IPAddress,
		UserAgent:    rctx.UserAgent,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.audit.LogEvent(ctx, domain.SecurityEvent{
		UserID:    user.ID,
		Kind:      domain.EventSessionCreated,
		Severity:  domain.SeverityLow,
		IPAddress: rctx.IPAddress,
		UserAgent: rctx.UserAgent,
		SessionID: session.ID,
	})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(time.Until(expiresAt).Seconds()),
		Session:      session,
	}, nil
}

// enforceSessionCap retires the oldest active sessions when the user is at
// or over the cap, leaving room for exactly one new session. Eviction goes
// through the invalidate path so the audit trail and cache stay consistent.
func (m *SessionManager) enforceSessionCap(ctx context.Context, userID string) error {
	count, err := m.sessions.CountActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if count < m.maxSessions {
		return nil
	}

	active, err := m.sessions.FindActiveByUserID(ctx, userID)
	if err != nil {
		return err
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	evict := count - m.maxSessions + 1
	if evict > len(active) {
		evict = len(active)
	}
	for _, session := range active[:evict] {
		if err := m.Invalidate(ctx, session.ID, domain.ReasonSessionLimit); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks an access token's signature and then the session store,
// cache first. Expired sessions are retired as a side effect. An IP mismatch
// is recorded and, depending on the enforcement mode, may reject the request.
func (m *SessionManager) Validate(ctx context.Context, accessToken string, rctx RequestContext) (*ValidationResult, error) {
	if _, err := m.issuer.ParseAccess(accessToken); err != nil {
		return &ValidationResult{Reason: "Invalid token"}, nil
	}

	session, err := m.sessions.FindByAccessToken(ctx, accessToken)
	if errors.Is(err, domain.ErrNotFound) {
		return &ValidationResult{Reason: "Session not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	user, err := m.users.FindByID(ctx, session.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return &ValidationResult{Reason: "User not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if !user.IsActive {
		return &ValidationResult{Reason: "User inactive"}, nil
	}

	now := m.now().UTC()
	if session.Expired(now) {
		if err := m.Invalidate(ctx, session.ID, domain.ReasonSessionExpired); err != nil {
			m.logger.Warn("failed to retire expired session", "session_id", session.ID, "error", err)
		}
		return &ValidationResult{Reason: "Session expired"}, nil
	}

	if rctx.IPAddress != "" && session.IPAddress != "" && rctx.IPAddress != session.IPAddress {
		m.audit.LogEvent(ctx, domain.SecurityEvent{
			UserID:    session.UserID,
			Kind:      domain.EventIPMismatch,
			Severity:  domain.SeverityMedium,
			Details:   fmt.Sprintf("session bound to %s, request from %s", session.IPAddress, rctx.IPAddress),
			IPAddress: rctx.IPAddress,
			UserAgent: rctx.UserAgent,
			SessionID: session.ID,
		})
		if m.ipEnforcement == IPEnforcementBlock {
			return &ValidationResult{Reason: "IP address mismatch"}, nil
		}
	}

	if err := m.sessions.TouchActivity(ctx, session.ID, now); err != nil {
		m.logger.Warn("failed to refresh session activity", "session_id", session.ID, "error", err)
	}
	session.LastActivityAt = now

	return &ValidationResult{IsValid: true, Session: session, User: user}, nil
}

// RefreshWithRotation exchanges a refresh token for a new access token,
// replacing the session's identity. The old access token stops validating
// immediately; the refresh token itself stays the durable row key.
func (m *SessionManager) RefreshWithRotation(ctx context.Context, refreshToken string, rctx RequestContext) (*LoginResult, error) {
	if _, err := m.issuer.ParseRefresh(refreshToken); err != nil {
		return nil, domain.ErrUnauthorized
	}

	session, err := m.sessions.FindByRefreshToken(ctx, refreshToken)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("refresh lookup: %w", err)
	}

	now := m.now().UTC()
	if now.After(session.CreatedAt.Add(m.issuer.RefreshTTL())) {
		if err := m.Invalidate(ctx, session.ID, domain.ReasonRefreshTokenExpired); err != nil {
			m.logger.Warn("failed to retire session with expired refresh token", "session_id", session.ID, "error", err)
		}
		return nil, domain.ErrSessionExpired
	}

	user, err := m.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if !user.IsActive {
		return nil, domain.ErrUnauthorized
	}

	newID := uuid.New().String()
	accessToken, expiresAt, err := m.issuer.IssueAccess(user.ID, user.Username, newID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	rotated, err := m.sessions.Rotate(ctx, domain.RotateSessionInput{
		RefreshToken: refreshToken,
		NewID:        newID,
		NewToken:     accessToken,
		NewExpiresAt: expiresAt,
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Lost the rotation race or the session was retired in between.
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("session rotation: %w", err)
	}

	m.audit.LogEvent(ctx, domain.SecurityEvent{
		UserID:    user.ID,
		Kind:      domain.EventTokenRefresh,
		Severity:  domain.SeverityLow,
		IPAddress: rctx.IPAddress,
		UserAgent: rctx.UserAgent,
		SessionID: rotated.ID,
	})

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(time.Until(expiresAt).Seconds()),
		Session:      rotated,
	}, nil
}

// Invalidate retires a session and purges its cache and CSRF state.
// Retiring an already-inactive session is a no-op.
func (m *SessionManager) Invalidate(ctx context.Context, sessionID string, reason domain.InvalidationReason) error {
	session, err := m.sessions.Retire(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session retire: %w", err)
	}
	if session == nil {
		return nil
	}

	if err := m.csrf.Forget(ctx, session.ID); err != nil {
		m.logger.Warn("failed to drop csrf token", "session_id", session.ID, "error", err)
	}

	m.audit.LogEvent(ctx, domain.SecurityEvent{
		UserID:    session.UserID,
		Kind:      domain.EventSessionRevoked,
		Severity:  domain.SeverityLow,
		Details:   string(reason),
		SessionID: session.ID,
	})
	return nil
}

// InvalidateAll retires every active session for the user.
func (m *SessionManager) InvalidateAll(ctx context.Context, userID string, reason domain.InvalidationReason) error {
	sessions, err := m.sessions.RetireByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("session retire all: %w", err)
	}

	for _, session := range sessions {
		if err := m.csrf.Forget(ctx, session.ID); err != nil {
			m.logger.Warn("failed to drop csrf token", "session_id", session.ID, "error", err)
		}
	}

	if len(sessions) > 0 {
		m.audit.LogEvent(ctx, domain.SecurityEvent{
			UserID:   userID,
			Kind:     domain.EventSessionRevoked,
			Severity: domain.SeverityLow,
			Details:  string(reason),
			Metadata: map[string]any{"revokedSessions": len(sessions)},
		})
	}
	return nil
}

// SweepExpired retires every session whose expiry has passed. It is meant to
// run periodically so that stale rows do not count against session caps.
func (m *SessionManager) SweepExpired(ctx context.Context) (int64, error) {
	retired, err := m.sessions.RetireExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}
	if retired > 0 {
		m.logger.Info("retired expired sessions", "count", retired)
	}
	return retired, nil
}

// ListActiveSessions returns the user's active sessions, newest first.
func (m *SessionManager) ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := m.sessions.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}
