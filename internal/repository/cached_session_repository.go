package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/telegrid/backend/internal/cache"
	"github.com/telegrid/backend/internal/crypto"
	"github.com/telegrid/backend/internal/domain"
)

const (
	sessionKeyFormat = "session:access:%s"
	maxSessionTTL    = 24 * time.Hour
)

// CachedSessionRepository decorates the durable store with a read-through /
// write-through cache keyed by the current access token. The durable store
// is authoritative; every cache operation fails open, so cache outages
// degrade latency, never correctness.
type CachedSessionRepository struct {
	inner  domain.SessionRepository
	cache  cache.Cache
	logger *slog.Logger
}

func NewCachedSessionRepository(inner domain.SessionRepository, c cache.Cache, logger *slog.Logger) *CachedSessionRepository {
	return &CachedSessionRepository{inner: inner, cache: c, logger: logger}
}

func sessionKey(accessToken string) string {
	return fmt.Sprintf(sessionKeyFormat, crypto.HashToken(accessToken))
}

func (r *CachedSessionRepository) Create(ctx context.Context, input domain.CreateSessionInput) (*domain.Session, error) {
	session, err := r.inner.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	r.put(ctx, session)
	return session, nil
}

func (r *CachedSessionRepository) FindByAccessToken(ctx context.Context, accessToken string) (*domain.Session, error) {
	key := sessionKey(accessToken)

	raw, err := r.cache.Get(ctx, key)
	if err == nil {
		var session domain.Session
		if jsonErr := json.Unmarshal([]byte(raw), &session); jsonErr == nil {
			return &session, nil
		}
		// Corrupt entry: drop it and fall through to the durable store.
		r.drop(ctx, key)
	} else if err != cache.ErrMiss {
		r.logger.Warn("session cache read failed, falling back to durable store", "error", err)
	}

	session, err := r.inner.FindByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	r.put(ctx, session)
	return session, nil
}

func (r *CachedSessionRepository) FindByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error) {
	// Refresh lookups always hit ground truth; rotation correctness depends
	// on the durable row state.
	return r.inner.FindByRefreshToken(ctx, refreshToken)
}

func (r *CachedSessionRepository) FindActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	return r.inner.FindActiveByUserID(ctx, userID)
}

func (r *CachedSessionRepository) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	return r.inner.CountActiveByUserID(ctx, userID)
}

// Rotate writes the durable row first, then retires the cache entry for the
// old access token and caches the new state. The three steps are sequenced,
// not transactional: a crash in between can leave the old token cached
// briefly, but its durable row is already rotated so it cannot validate.
func (r *CachedSessionRepository) Rotate(ctx context.Context, input domain.RotateSessionInput) (*domain.Session, error) {
	old, err := r.inner.FindByRefreshToken(ctx, input.RefreshToken)
	if err != nil {
		return nil, err
	}

	session, err := r.inner.Rotate(ctx, input)
	if err != nil {
		return nil, err
	}

	r.drop(ctx, sessionKey(old.AccessToken))
	r.put(ctx, session)
	return session, nil
}

func (r *CachedSessionRepository) Retire(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := r.inner.Retire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		r.drop(ctx, sessionKey(session.AccessToken))
	}
	return session, nil
}

func (r *CachedSessionRepository) RetireByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := r.inner.RetireByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(sessions))
	for _, s := range sessions {
		keys = append(keys, sessionKey(s.AccessToken))
	}
	if len(keys) > 0 {
		if err := r.cache.Delete(ctx, keys...); err != nil {
			r.logger.Warn("session cache purge failed", "user_id", userID, "error", err)
		}
	}
	return sessions, nil
}

func (r *CachedSessionRepository) TouchActivity(ctx context.Context, sessionID string, at time.Time) error {
	return r.inner.TouchActivity(ctx, sessionID, at)
}

func (r *CachedSessionRepository) RetireExpired(ctx context.Context) (int64, error) {
	return r.inner.RetireExpired(ctx)
}

func (r *CachedSessionRepository) put(ctx context.Context, session *domain.Session) {
	encoded, err := json.Marshal(session)
	if err != nil {
		return
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if ttl > maxSessionTTL {
		ttl = maxSessionTTL
	}
	if err := r.cache.SetWithTTL(ctx, sessionKey(session.AccessToken), string(encoded), ttl); err != nil {
		r.logger.Warn("session cache write failed", "session_id", session.ID, "error", err)
	}
}

func (r *CachedSessionRepository) drop(ctx context.Context, key string) {
	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warn("session cache delete failed", "error", err)
	}
}

var _ domain.SessionRepository = (*CachedSessionRepository)(nil)
