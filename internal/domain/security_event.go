package domain

import (
	"context"
	"time"
)

type EventKind string

const (
	EventLoginSuccess      EventKind = "LOGIN_SUCCESS"
	EventLoginFailed       EventKind = "LOGIN_FAILED"
	EventLogout            EventKind = "LOGOUT"
	EventSessionCreated    EventKind = "SESSION_CREATED"
	EventSessionRevoked    EventKind = "SESSION_REVOKED"
	EventTokenRefresh      EventKind = "TOKEN_REFRESH"
	EventSuspiciousRequest EventKind = "SUSPICIOUS_REQUEST"
	EventIPMismatch        EventKind = "IP_MISMATCH"
	EventAPIKeyUsed        EventKind = "API_KEY_USED"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SecurityEvent is one authentication-related occurrence. Events are
// immutable once recorded.
type SecurityEvent struct {
	ID        string         `json:"id,omitempty"`
	UserID    string         `json:"userId"`
	Kind      EventKind      `json:"kind"`
	Severity  Severity       `json:"severity"`
	Details   string         `json:"details,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type AlertType string

const (
	AlertSuspiciousIP        AlertType = "SUSPICIOUS_IP"
	AlertSuspiciousUserAgent AlertType = "SUSPICIOUS_USER_AGENT"
	AlertRapidLocationChange AlertType = "RAPID_LOCATION_CHANGE"
	AlertConcurrentLocations AlertType = "CONCURRENT_LOCATIONS"
	AlertBruteForceDetected  AlertType = "BRUTE_FORCE_DETECTED"
	AlertMultipleHighRisk    AlertType = "MULTIPLE_HIGH_RISK_EVENTS"
)

// SecurityAlert is a derived signal from analyzing event history. Alerts are
// detection only; acting on them is a policy decision left to the caller.
type SecurityAlert struct {
	Type      AlertType      `json:"type"`
	UserID    string         `json:"userId"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SecurityEventRepository is the append-only durable audit log. Retention is
// an external concern; nothing here deletes rows.
type SecurityEventRepository interface {
	Append(ctx context.Context, event SecurityEvent) (*SecurityEvent, error)
	FindRecentByUserID(ctx context.Context, userID string, since time.Time, limit int) ([]SecurityEvent, error)
}
