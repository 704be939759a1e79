package security

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/telegrid/backend/internal/cache"
	"github.com/telegrid/backend/internal/domain"
)

const (
	bruteForceThreshold = 5
	failedAttemptWindow = 15 * time.Minute
	highRiskWindow      = time.Hour
	highRiskThreshold   = 3

	failedKeyFormat = "security:failed:%s:%s"

	ipAlertThreshold = 50
)

// AuditService records authentication events durably and in the fast cache,
// and runs the risk heuristics over the cached history. Detection is
// always-on and cheap; acting on alerts is a policy decision upstream.
type AuditService struct {
	repo   domain.SecurityEventRepository
	store  *EventStore
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditService(repo domain.SecurityEventRepository, store *EventStore, c cache.Cache, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		store:  store,
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

// LogEvent persists the event durably and appends it to the cached history.
// High and critical events trigger pattern analysis over the trailing hour.
// Audit failures never fail the calling request; they are logged and
// swallowed.
func (s *AuditService) LogEvent(ctx context.Context, event domain.SecurityEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	if _, err := s.repo.Append(ctx, event); err != nil {
		s.logger.Error("failed to persist security event",
			"kind", event.Kind,
			"user_id", event.UserID,
			"error", err,
		)
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.logger.Warn("failed to cache security event", "user_id", event.UserID, "error", err)
	}

	if event.Severity == domain.SeverityHigh || event.Severity == domain.SeverityCritical {
		s.checkHighRiskWindow(ctx, event.UserID)
	}
}

func (s *AuditService) checkHighRiskWindow(ctx context.Context, userID string) {
	cutoff := s.now().Add(-highRiskWindow)
	events, err := s.recentEvents(ctx, userID, cutoff)
	if err != nil {
		s.logger.Warn("high-risk window analysis skipped", "user_id", userID, "error", err)
		return
	}

	count := 0
	for _, e := range events {
		if e.Severity == domain.SeverityHigh || e.Severity == domain.SeverityCritical {
			count++
		}
	}
	if count < highRiskThreshold {
		return
	}

	s.raiseAlert(ctx, domain.SecurityAlert{
		Type:     domain.AlertMultipleHighRisk,
		UserID:   userID,
		Message:  fmt.Sprintf("%d high-risk events within the last hour", count),
		Severity: domain.SeverityCritical,
		Metadata: map[string]any{"count": count, "windowMinutes": int(highRiskWindow.Minutes())},
	})
}

// recentEvents reads the cached history and falls back to the durable log
// when the cache is unavailable.
func (s *AuditService) recentEvents(ctx context.Context, userID string, cutoff time.Time) ([]domain.SecurityEvent, error) {
	events, err := s.store.EventsSince(ctx, userID, cutoff)
	if err == nil {
		return events, nil
	}
	s.logger.Warn("cached event history unavailable, reading durable log", "user_id", userID, "error", err)
	return s.repo.FindRecentByUserID(ctx, userID, cutoff, maxCachedEvents)
}

// PatternAnalysis is the outcome of analyzing a login against the user's
// history.
type PatternAnalysis struct {
	Risk   domain.Severity
	Alerts []domain.SecurityAlert
}

// AnalyzeLoginPattern runs the independent login checks: IP risk score,
// user-agent suspicion for agents not previously seen, and country-level
// location jump against the immediately preceding known IP. Events already
// recorded for the session under analysis are excluded, so the checks always
// compare against prior activity even when the login's own events land in
// the history first. Concurrent session geographic spread is not evaluated
// yet: correlating sessions to locations needs a session-location join that
// does not exist, so that check contributes no alerts.
func (s *AuditService) AnalyzeLoginPattern(ctx context.Context, userID, ip, userAgent, sessionID string) (PatternAnalysis, error) {
	history, err := s.recentEvents(ctx, userID, s.now().Add(-historyTTL))
	if err != nil {
		s.logger.Warn("login pattern analysis using empty history", "user_id", userID, "error", err)
		history = nil
	}

	var seenIPs, seenAgents []string
	lastKnownIP := ""
	for _, e := range history {
		if sessionID != "" && e.SessionID == sessionID {
			continue
		}
		if e.IPAddress != "" {
			seenIPs = append(seenIPs, e.IPAddress)
			lastKnownIP = e.IPAddress
		}
		if e.UserAgent != "" {
			seenAgents = append(seenAgents, e.UserAgent)
		}
	}

	var alerts []domain.SecurityAlert
	now := s.now().UTC()

	if score := IPRiskScore(ip, seenIPs); score >= ipAlertThreshold {
		alerts = append(alerts, domain.SecurityAlert{
			Type:      domain.AlertSuspiciousIP,
			UserID:    userID,
			Message:   fmt.Sprintf("login from high-risk address %s", ip),
			Severity:  RiskLevel(score),
			Metadata:  map[string]any{"ip": ip, "score": score, "sessionId": sessionID},
			CreatedAt: now,
		})
	}

	if SuspiciousUserAgent(userAgent) && !contains(seenAgents, userAgent) {
		alerts = append(alerts, domain.SecurityAlert{
			Type:      domain.AlertSuspiciousUserAgent,
			UserID:    userID,
			Message:   "login from an unrecognized non-browser client",
			Severity:  domain.SeverityMedium,
			Metadata:  map[string]any{"userAgent": userAgent, "sessionId": sessionID},
			CreatedAt: now,
		})
	}

	if lastKnownIP != "" && LocationChanged(lastKnownIP, ip) {
		alerts = append(alerts, domain.SecurityAlert{
			Type:      domain.AlertRapidLocationChange,
			UserID:    userID,
			Message:   fmt.Sprintf("country changed between %s and %s", lastKnownIP, ip),
			Severity:  domain.SeverityHigh,
			Metadata:  map[string]any{"previousIp": lastKnownIP, "currentIp": ip},
			CreatedAt: now,
		})
	}

	for _, alert := range alerts {
		s.raiseAlert(ctx, alert)
	}

	return PatternAnalysis{Risk: overallRisk(alerts), Alerts: alerts}, nil
}

func overallRisk(alerts []domain.SecurityAlert) domain.Severity {
	if len(alerts) == 0 {
		return domain.SeverityLow
	}
	for _, a := range alerts {
		if a.Severity == domain.SeverityHigh || a.Severity == domain.SeverityCritical {
			return domain.SeverityHigh
		}
	}
	return domain.SeverityMedium
}

// BruteForceCheck reports the state of the failed-attempt counter for a
// (user, ip) pair.
type BruteForceCheck struct {
	IsBruteForce bool
	Attempts     int
	Alerts       []domain.SecurityAlert
}

// DetectFailedLoginAttempts reads the decaying counter and raises a critical
// alert once the threshold is reached.
func (s *AuditService) DetectFailedLoginAttempts(ctx context.Context, userID, ip string) (BruteForceCheck, error) {
	attempts, err := s.failedAttempts(ctx, userID, ip)
	if err != nil {
		return BruteForceCheck{}, err
	}
	if attempts < bruteForceThreshold {
		return BruteForceCheck{Attempts: attempts}, nil
	}

	alert := domain.SecurityAlert{
		Type:      domain.AlertBruteForceDetected,
		UserID:    userID,
		Message:   fmt.Sprintf("%d failed login attempts from %s within %s", attempts, ip, failedAttemptWindow),
		Severity:  domain.SeverityCritical,
		Metadata:  map[string]any{"ip": ip, "attempts": attempts},
		CreatedAt: s.now().UTC(),
	}
	s.raiseAlert(ctx, alert)

	return BruteForceCheck{IsBruteForce: true, Attempts: attempts, Alerts: []domain.SecurityAlert{alert}}, nil
}

// IncrementFailedAttempts bumps the (user, ip) counter, restarting its decay
// window, and records a LOGIN_FAILED event whose severity escalates to HIGH
// once the brute-force threshold is reached. Returns the new count.
func (s *AuditService) IncrementFailedAttempts(ctx context.Context, userID, ip, userAgent string) (int, error) {
	attempts, err := s.failedAttempts(ctx, userID, ip)
	if err != nil {
		return 0, err
	}
	attempts++

	key := fmt.Sprintf(failedKeyFormat, userID, ip)
	if err := s.cache.SetWithTTL(ctx, key, strconv.Itoa(attempts), failedAttemptWindow); err != nil {
		return 0, err
	}

	severity := domain.SeverityMedium
	if attempts >= bruteForceThreshold {
		severity = domain.SeverityHigh
	}
	s.LogEvent(ctx, domain.SecurityEvent{
		UserID:    userID,
		Kind:      domain.EventLoginFailed,
		Severity:  severity,
		Details:   fmt.Sprintf("failed login attempt %d", attempts),
		IPAddress: ip,
		UserAgent: userAgent,
	})

	return attempts, nil
}

// ResetFailedAttempts clears the counter after a successful login.
func (s *AuditService) ResetFailedAttempts(ctx context.Context, userID, ip string) error {
	return s.cache.Delete(ctx, fmt.Sprintf(failedKeyFormat, userID, ip))
}

func (s *AuditService) failedAttempts(ctx context.Context, userID, ip string) (int, error) {
	key := fmt.Sprintf(failedKeyFormat, userID, ip)
	raw, err := s.cache.Get(ctx, key)
	if err == cache.ErrMiss {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	attempts, err := strconv.Atoi(raw)
	if err != nil || attempts < 0 {
		return 0, nil
	}
	return attempts, nil
}

// Alerts exposes the cached alert list for the policy layer.
func (s *AuditService) Alerts(ctx context.Context, userID string) ([]domain.SecurityAlert, error) {
	return s.store.Alerts(ctx, userID)
}

func (s *AuditService) raiseAlert(ctx context.Context, alert domain.SecurityAlert) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now().UTC()
	}
	if err := s.store.AppendAlert(ctx, alert); err != nil {
		s.logger.Warn("failed to record security alert", "type", alert.Type, "user_id", alert.UserID, "error", err)
	}
	s.logger.Warn("security alert",
		"type", alert.Type,
		"user_id", alert.UserID,
		"severity", alert.Severity,
		"message", alert.Message,
	)
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
