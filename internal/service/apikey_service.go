package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telegrid/backend/internal/cache"
	"github.com/telegrid/backend/internal/crypto"
	"github.com/telegrid/backend/internal/domain"
)

const (
	apiKeyCacheTTL   = 5 * time.Minute
	apiKeyKeyFormat  = "apikey:%s"
	lastUsedInterval = time.Minute
)

// APIKeyIdentity is a validated key plus its owning user.
type APIKeyIdentity struct {
	Key  *domain.APIKey `json:"key"`
	User *domain.User   `json:"user"`
}

// APIKeyService validates API keys: the key must be active and unexpired,
// and the owning user active. Lookups are cached for five minutes; touching
// lastUsedAt invalidates the cached entry.
type APIKeyService struct {
	keys   domain.APIKeyRepository
	users  domain.UserRepository
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewAPIKeyService(keys domain.APIKeyRepository, users domain.UserRepository, c cache.Cache, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		keys:   keys,
		users:  users,
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

// Validate resolves and checks the raw key. requiredPerms are all required;
// a key carrying the "*" wildcard satisfies any of them.
func (s *APIKeyService) Validate(ctx context.Context, rawKey string, requiredPerms ...string) (*APIKeyIdentity, error) {
	hash := crypto.HashToken(rawKey)

	identity, err := s.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if !identity.Key.IsActive {
		return nil, domain.ErrKeyRevoked
	}
	if identity.Key.ExpiresAt != nil && now.After(*identity.Key.ExpiresAt) {
		return nil, domain.ErrKeyExpired
	}
	if !identity.User.IsActive {
		return nil, domain.ErrUserInactive
	}
	for _, perm := range requiredPerms {
		if !identity.Key.HasPermission(perm) {
			return nil, domain.ErrForbidden
		}
	}

	s.touchLastUsed(ctx, identity.Key, hash, now)
	return identity, nil
}

func (s *APIKeyService) lookup(ctx context.Context, hash string) (*APIKeyIdentity, error) {
	cacheKey := fmt.Sprintf(apiKeyKeyFormat, hash)

	if raw, err := s.cache.Get(ctx, cacheKey); err == nil {
		var identity APIKeyIdentity
		if jsonErr := json.Unmarshal([]byte(raw), &identity); jsonErr == nil {
			return &identity, nil
		}
	} else if err != cache.ErrMiss {
		s.logger.Warn("api key cache read failed, falling back to durable store", "error", err)
	}

	key, err := s.keys.FindByKeyHash(ctx, hash)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("api key lookup: %w", err)
	}

	user, err := s.users.FindByID(ctx, key.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("api key user lookup: %w", err)
	}

	identity := &APIKeyIdentity{Key: key, User: user}
	if encoded, err := json.Marshal(identity); err == nil {
		if err := s.cache.SetWithTTL(ctx, cacheKey, string(encoded), apiKeyCacheTTL); err != nil {
			s.logger.Warn("api key cache write failed", "error", err)
		}
	}
	return identity, nil
}

// touchLastUsed persists lastUsedAt at most once a minute and drops the
// cached entry so the next lookup sees the fresh timestamp.
func (s *APIKeyService) touchLastUsed(ctx context.Context, key *domain.APIKey, hash string, now time.Time) {
	if key.LastUsedAt != nil && now.Sub(*key.LastUsedAt) < lastUsedInterval {
		return
	}
	if err := s.keys.TouchLastUsed(ctx, key.ID, now); err != nil {
		s.logger.Warn("failed to update api key last use", "key_id", key.ID, "error", err)
		return
	}
	if err := s.cache.Delete(ctx, fmt.Sprintf(apiKeyKeyFormat, hash)); err != nil {
		s.logger.Warn("failed to invalidate api key cache", "key_id", key.ID, "error", err)
	}
}
