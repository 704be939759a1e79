package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/telegrid/backend/internal/cache"
	"github.com/telegrid/backend/internal/domain"
)

type stubSessionRepo struct {
	sessions map[string]*domain.Session

	findByAccessCalls int
	rotateCalls       int
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (s *stubSessionRepo) add(session domain.Session) {
	stored := session
	s.sessions[session.ID] = &stored
}

func (s *stubSessionRepo) Create(_ context.Context, input domain.CreateSessionInput) (*domain.Session, error) {
	session := &domain.Session{
		ID:           input.ID,
		UserID:       input.UserID,
		AccessToken:  input.AccessToken,
		RefreshToken: input.RefreshToken,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    input.ExpiresAt,
	}
	s.sessions[session.ID] = session
	copied := *session
	return &copied, nil
}

func (s *stubSessionRepo) FindByAccessToken(_ context.Context, accessToken string) (*domain.Session, error) {
	s.findByAccessCalls++
	for _, session := range s.sessions {
		if session.IsActive && session.AccessToken == accessToken {
			copied := *session
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubSessionRepo) FindByRefreshToken(_ context.Context, refreshToken string) (*domain.Session, error) {
	for _, session := range s.sessions {
		if session.IsActive && session.RefreshToken == refreshToken {
			copied := *session
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubSessionRepo) FindActiveByUserID(_ context.Context, userID string) ([]domain.Session, error) {
	var out []domain.Session
	for _, session := range s.sessions {
		if session.IsActive && session.UserID == userID {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *stubSessionRepo) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	sessions, err := s.FindActiveByUserID(ctx, userID)
	return len(sessions), err
}

func (s *stubSessionRepo) Rotate(_ context.Context, input domain.RotateSessionInput) (*domain.Session, error) {
	s.rotateCalls++
	for id, session := range s.sessions {
		if session.IsActive && session.RefreshToken == input.RefreshToken {
			rotated := *session
			rotated.ID = input.NewID
			rotated.AccessToken = input.NewToken
			rotated.ExpiresAt = input.NewExpiresAt
			delete(s.sessions, id)
			s.sessions[rotated.ID] = &rotated
			copied := rotated
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubSessionRepo) Retire(_ context.Context, sessionID string) (*domain.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok || !session.IsActive {
		return nil, nil
	}
	session.IsActive = false
	copied := *session
	return &copied, nil
}

func (s *stubSessionRepo) RetireByUserID(_ context.Context, userID string) ([]domain.Session, error) {
	var out []domain.Session
	for _, session := range s.sessions {
		if session.IsActive && session.UserID == userID {
			session.IsActive = false
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *stubSessionRepo) TouchActivity(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (s *stubSessionRepo) RetireExpired(_ context.Context) (int64, error) {
	return 0, nil
}

// brokenCache fails every operation, standing in for a cache outage.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, string) (string, error)                    { return "", errCacheDown }
func (brokenCache) SetWithTTL(context.Context, string, string, time.Duration) error { return errCacheDown }
func (brokenCache) Delete(context.Context, ...string) error                        { return errCacheDown }
func (brokenCache) DeleteByPattern(context.Context, string) error                  { return errCacheDown }
func (brokenCache) Exists(context.Context, string) (bool, error)                   { return false, errCacheDown }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedFindByAccessTokenReadThrough(t *testing.T) {
	inner := newStubSessionRepo()
	inner.add(domain.Session{
		ID:          "s-1",
		UserID:      "user-1",
		AccessToken: "access-1",
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	})
	repo := NewCachedSessionRepository(inner, cache.NewMemory(), testLogger())
	ctx := context.Background()

	first, err := repo.FindByAccessToken(ctx, "access-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.findByAccessCalls != 1 {
		t.Fatalf("expected 1 durable lookup, got %d", inner.findByAccessCalls)
	}

	second, err := repo.FindByAccessToken(ctx, "access-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.findByAccessCalls != 1 {
		t.Errorf("expected the second lookup to be served from cache, durable lookups: %d", inner.findByAccessCalls)
	}
	if first.ID != second.ID || first.UserID != second.UserID {
		t.Error("expected cached and durable results to agree")
	}
}

func TestCachedFindByAccessTokenMiss(t *testing.T) {
	repo := NewCachedSessionRepository(newStubSessionRepo(), cache.NewMemory(), testLogger())

	if _, err := repo.FindByAccessToken(context.Background(), "no-such-token"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCachedCreatePopulatesCache(t *testing.T) {
	inner := newStubSessionRepo()
	repo := NewCachedSessionRepository(inner, cache.NewMemory(), testLogger())
	ctx := context.Background()

	_, err := repo.Create(ctx, domain.CreateSessionInput{
		ID:          "s-1",
		UserID:      "user-1",
		AccessToken: "access-1",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := repo.FindByAccessToken(ctx, "access-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.findByAccessCalls != 0 {
		t.Errorf("expected the lookup to hit the cache, durable lookups: %d", inner.findByAccessCalls)
	}
}

func TestCachedRotateDropsOldTokenEntry(t *testing.T) {
	inner := newStubSessionRepo()
	repo := NewCachedSessionRepository(inner, cache.NewMemory(), testLogger())
	ctx := context.Background()

	_, err := repo.Create(ctx, domain.CreateSessionInput{
		ID:           "s-1",
		UserID:       "user-1",
		AccessToken:  "access-old",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rotated, err := repo.Rotate(ctx, domain.RotateSessionInput{
		RefreshToken: "refresh-1",
		NewID:        "s-2",
		NewToken:     "access-new",
		NewExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rotated.ID != "s-2" {
		t.Errorf("expected rotated id s-2, got %s", rotated.ID)
	}

	// The old token's cache entry is gone, and the durable store no longer
	// has the row either.
	if _, err := repo.FindByAccessToken(ctx, "access-old"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected the old access token to be gone, got %v", err)
	}

	inner.findByAccessCalls = 0
	if _, err := repo.FindByAccessToken(ctx, "access-new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.findByAccessCalls != 0 {
		t.Errorf("expected the new token to be cached, durable lookups: %d", inner.findByAccessCalls)
	}
}

func TestCachedRetireDropsEntry(t *testing.T) {
	inner := newStubSessionRepo()
	repo := NewCachedSessionRepository(inner, cache.NewMemory(), testLogger())
	ctx := context.Background()

	_, err := repo.Create(ctx, domain.CreateSessionInput{
		ID:          "s-1",
		UserID:      "user-1",
		AccessToken: "access-1",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := repo.Retire(ctx, "s-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := repo.FindByAccessToken(ctx, "access-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected a retired session's token to stop resolving, got %v", err)
	}
}

func TestCachedRetireByUserIDPurgesEntries(t *testing.T) {
	inner := newStubSessionRepo()
	repo := NewCachedSessionRepository(inner, cache.NewMemory(), testLogger())
	ctx := context.Background()

	for _, id := range []string{"s-1", "s-2"} {
		_, err := repo.Create(ctx, domain.CreateSessionInput{
			ID:          id,
			UserID:      "user-1",
			AccessToken: "access-" + id,
			ExpiresAt:   time.Now().UTC().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	retired, err := repo.RetireByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(retired) != 2 {
		t.Fatalf("expected 2 retired sessions, got %d", len(retired))
	}

	for _, id := range []string{"s-1", "s-2"} {
		if _, err := repo.FindByAccessToken(ctx, "access-"+id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected access-%s to stop resolving, got %v", id, err)
		}
	}
}

func TestCachedRepositoryFailsOpenOnCacheOutage(t *testing.T) {
	inner := newStubSessionRepo()
	inner.add(domain.Session{
		ID:           "s-1",
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
	})
	repo := NewCachedSessionRepository(inner, brokenCache{}, testLogger())
	ctx := context.Background()

	session, err := repo.FindByAccessToken(ctx, "access-1")
	if err != nil {
		t.Fatalf("expected durable fallback during cache outage, got %v", err)
	}
	if session.ID != "s-1" {
		t.Errorf("expected s-1, got %s", session.ID)
	}

	if _, err := repo.Rotate(ctx, domain.RotateSessionInput{
		RefreshToken: "refresh-1",
		NewID:        "s-2",
		NewToken:     "access-new",
		NewExpiresAt: time.Now().UTC().Add(time.Hour),
	}); err != nil {
		t.Errorf("expected rotation to succeed during cache outage, got %v", err)
	}

	if _, err := repo.Retire(ctx, "s-2"); err != nil {
		t.Errorf("expected retire to succeed during cache outage, got %v", err)
	}
}

func TestCachedFindByAccessTokenDropsCorruptEntry(t *testing.T) {
	inner := newStubSessionRepo()
	inner.add(domain.Session{
		ID:          "s-1",
		UserID:      "user-1",
		AccessToken: "access-1",
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	})
	c := cache.NewMemory()
	repo := NewCachedSessionRepository(inner, c, testLogger())
	ctx := context.Background()

	if err := c.SetWithTTL(ctx, sessionKey("access-1"), "{not json", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	session, err := repo.FindByAccessToken(ctx, "access-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "s-1" {
		t.Errorf("expected the durable row, got %s", session.ID)
	}
	if inner.findByAccessCalls != 1 {
		t.Errorf("expected 1 durable lookup after dropping the corrupt entry, got %d", inner.findByAccessCalls)
	}
}
