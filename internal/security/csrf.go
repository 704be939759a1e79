package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/telegrid/backend/internal/cache"
	"github.com/telegrid/backend/internal/crypto"
)

const (
	csrfTokenBytes = 32
	csrfTTL        = time.Hour
	csrfKeyFormat  = "csrf:%s"
)

// CsrfService issues and validates HMAC-signed, session-bound anti-forgery
// tokens. Token format is "random.signature" where the signature covers
// (random, sessionID) under the server secret.
type CsrfService struct {
	secret []byte
	cache  cache.Cache
}

func NewCsrfService(secret string, c cache.Cache) *CsrfService {
	return &CsrfService{secret: []byte(secret), cache: c}
}

// Generate mints a fresh token for the session and stores it under the
// session-scoped cache key, replacing any prior token.
func (s *CsrfService) Generate(ctx context.Context, sessionID string) (string, error) {
	random, err := crypto.RandomToken(csrfTokenBytes)
	if err != nil {
		return "", err
	}
	signature := crypto.Sign(s.secret, random+"."+sessionID)
	token := random + "." + signature

	key := fmt.Sprintf(csrfKeyFormat, sessionID)
	if err := s.cache.SetWithTTL(ctx, key, token, csrfTTL); err != nil {
		return "", err
	}
	return token, nil
}

// GetOrCreate returns the session's current token, minting one if none is
// cached.
func (s *CsrfService) GetOrCreate(ctx context.Context, sessionID string) (string, error) {
	key := fmt.Sprintf(csrfKeyFormat, sessionID)
	existing, err := s.cache.Get(ctx, key)
	if err == nil {
		return existing, nil
	}
	if err != cache.ErrMiss {
		return "", err
	}
	return s.Generate(ctx, sessionID)
}

// Validate checks the presented token against the session. All four checks
// (parse, signature, cache presence, exact match) must pass; any failure is
// a silent false so the caller can respond uniformly.
func (s *CsrfService) Validate(ctx context.Context, token, sessionID string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	if !crypto.VerifySignature(s.secret, parts[0]+"."+sessionID, parts[1]) {
		return false
	}

	key := fmt.Sprintf(csrfKeyFormat, sessionID)
	stored, err := s.cache.Get(ctx, key)
	if err != nil {
		return false
	}
	return stored == token
}

// Rotate invalidates the current token and mints a replacement. The prior
// token stops validating as soon as the cache entry is replaced.
func (s *CsrfService) Rotate(ctx context.Context, sessionID string) (string, error) {
	key := fmt.Sprintf(csrfKeyFormat, sessionID)
	if err := s.cache.Delete(ctx, key); err != nil {
		return "", err
	}
	return s.Generate(ctx, sessionID)
}

// Forget drops the session's token, used on logout.
func (s *CsrfService) Forget(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, fmt.Sprintf(csrfKeyFormat, sessionID))
}
