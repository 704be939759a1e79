package domain

import (
	"context"
	"time"
)

// Session binds a user to one authenticated device/browser context.
// A session is either active or permanently retired; IsActive never
// transitions back to true once cleared.
type Session struct {
	ID             string
	UserID         string
	AccessToken    string
	RefreshToken   string
	IPAddress      string
	UserAgent      string
	IsActive       bool
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type CreateSessionInput struct {
	ID           string
	UserID       string
	AccessToken  string
	RefreshToken string
	IPAddress    string
	UserAgent    string
	ExpiresAt    time.Time
}

// RotateSessionInput replaces the identity of an active session in place:
// new id, new access token, new expiry. The refresh token stays the row key.
type RotateSessionInput struct {
	RefreshToken string
	NewID        string
	NewToken     string
	NewExpiresAt time.Time
}

// InvalidationReason tags the audit trail entry written when a session is
// retired.
type InvalidationReason string

const (
	ReasonManualLogout        InvalidationReason = "MANUAL_LOGOUT"
	ReasonSessionExpired      InvalidationReason = "SESSION_EXPIRED"
	ReasonSessionLimit        InvalidationReason = "SESSION_LIMIT_EXCEEDED"
	ReasonRefreshTokenExpired InvalidationReason = "REFRESH_TOKEN_EXPIRED"
	ReasonAccountRevocation   InvalidationReason = "ACCOUNT_REVOCATION"
	ReasonManualRevocation    InvalidationReason = "MANUAL_REVOCATION"
)

// SessionRepository is the durable store for sessions. Rows are retired, not
// deleted; finders only return active rows.
type SessionRepository interface {
	Create(ctx context.Context, input CreateSessionInput) (*Session, error)
	FindByAccessToken(ctx context.Context, accessToken string) (*Session, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (*Session, error)
	FindActiveByUserID(ctx context.Context, userID string) ([]Session, error)
	CountActiveByUserID(ctx context.Context, userID string) (int, error)
	Rotate(ctx context.Context, input RotateSessionInput) (*Session, error)
	// Retire marks the session inactive and returns the retired row, or
	// (nil, nil) when the session was already inactive or unknown.
	Retire(ctx context.Context, sessionID string) (*Session, error)
	RetireByUserID(ctx context.Context, userID string) ([]Session, error)
	TouchActivity(ctx context.Context, sessionID string, at time.Time) error
	RetireExpired(ctx context.Context) (int64, error)
}
