package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/telegrid/backend/internal/cache"
	"github.com/telegrid/backend/internal/crypto"
	"github.com/telegrid/backend/internal/domain"
	"github.com/telegrid/backend/internal/security"
	"github.com/telegrid/backend/internal/service"
	"github.com/telegrid/backend/internal/token"
)

type fakeSessionRepo struct {
	sessions map[string]*domain.Session
}

func (r *fakeSessionRepo) Create(_ context.Context, input domain.CreateSessionInput) (*domain.Session, error) {
	session := &domain.Session{
		ID:           input.ID,
		UserID:       input.UserID,
		AccessToken:  input.AccessToken,
		RefreshToken: input.RefreshToken,
		IPAddress:    input.IPAddress,
		UserAgent:    input.UserAgent,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    input.ExpiresAt,
	}
	r.sessions[session.ID] = session
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) FindByAccessToken(_ context.Context, accessToken string) (*domain.Session, error) {
	for _, s := range r.sessions {
		if s.IsActive && s.AccessToken == accessToken {
			copied := *s
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSessionRepo) FindByRefreshToken(_ context.Context, refreshToken string) (*domain.Session, error) {
	for _, s := range r.sessions {
		if s.IsActive && s.RefreshToken == refreshToken {
			copied := *s
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSessionRepo) FindActiveByUserID(_ context.Context, userID string) ([]domain.Session, error) {
	var out []domain.Session
	for _, s := range r.sessions {
		if s.IsActive && s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	sessions, err := r.FindActiveByUserID(ctx, userID)
	return len(sessions), err
}

func (r *fakeSessionRepo) Rotate(_ context.Context, input domain.RotateSessionInput) (*domain.Session, error) {
	for id, s := range r.sessions {
		if s.IsActive && s.RefreshToken == input.RefreshToken {
			rotated := *s
			rotated.ID = input.NewID
			rotated.AccessToken = input.NewToken
			rotated.ExpiresAt = input.NewExpiresAt
			delete(r.sessions, id)
			r.sessions[rotated.ID] = &rotated
			copied := rotated
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSessionRepo) Retire(_ context.Context, sessionID string) (*domain.Session, error) {
	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive {
		return nil, nil
	}
	s.IsActive = false
	copied := *s
	return &copied, nil
}

func (r *fakeSessionRepo) RetireByUserID(_ context.Context, userID string) ([]domain.Session, error) {
	var out []domain.Session
	for _, s := range r.sessions {
		if s.IsActive && s.UserID == userID {
			s.IsActive = false
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) TouchActivity(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (r *fakeSessionRepo) RetireExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type fakeUserRepo struct {
	users map[string]*domain.User
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := r.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeAPIKeyRepo struct {
	keys map[string]*domain.APIKey
}

func (r *fakeAPIKeyRepo) FindByKeyHash(_ context.Context, keyHash string) (*domain.APIKey, error) {
	if key, ok := r.keys[keyHash]; ok {
		copied := *key
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeAPIKeyRepo) TouchLastUsed(_ context.Context, _ string, _ time.Time) error {
	return nil
}

type nullEventRepo struct{}

func (nullEventRepo) Append(_ context.Context, event domain.SecurityEvent) (*domain.SecurityEvent, error) {
	return &event, nil
}

func (nullEventRepo) FindRecentByUserID(context.Context, string, time.Time, int) ([]domain.SecurityEvent, error) {
	return nil, nil
}

type gatewayFixture struct {
	app      *fiber.App
	sessions *service.SessionManager
	users    *fakeUserRepo
	rawKey   string
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	c := cache.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := security.NewAuditService(nullEventRepo{}, security.NewEventStore(c), c, logger)
	csrf := security.NewCsrfService("csrf-secret", c)
	issuer := token.NewIssuer("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)

	users := &fakeUserRepo{users: map[string]*domain.User{
		"user-1": {ID: "user-1", Username: "alice", IsActive: true},
	}}

	rawKey := "tk_live_gateway"
	keys := &fakeAPIKeyRepo{keys: map[string]*domain.APIKey{
		crypto.HashToken(rawKey): {
			ID:          "key-1",
			UserID:      "user-1",
			KeyHash:     crypto.HashToken(rawKey),
			Permissions: []string{"sessions:read"},
			IsActive:    true,
		},
	}}

	sessions := service.NewSessionManager(service.SessionManagerConfig{
		Sessions: &fakeSessionRepo{sessions: make(map[string]*domain.Session)},
		Users:    users,
		Issuer:   issuer,
		Audit:    audit,
		Csrf:     csrf,
		Logger:   logger,
	})
	apiKeys := service.NewAPIKeyService(keys, users, c, logger)

	gateway := NewAuthGateway(AuthGatewayConfig{
		Sessions: sessions,
		APIKeys:  apiKeys,
		Csrf:     csrf,
		Logger:   logger,
	})

	app := fiber.New()
	app.Get("/protected", gateway.Require(), func(c *fiber.Ctx) error {
		user := GetUserFromContext(c)
		if user == nil {
			return fiber.ErrInternalServerError
		}
		return c.SendString(user.ID)
	})
	app.Post("/protected", gateway.Require(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/readonly", gateway.Require("sessions:read"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/admin", gateway.Require("admin:write"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	return &gatewayFixture{app: app, sessions: sessions, users: users, rawKey: rawKey}
}

func (f *gatewayFixture) loginToken(t *testing.T) string {
	t.Helper()
	user, err := f.users.FindByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := f.sessions.Login(context.Background(), user, service.RequestContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result.AccessToken
}

func TestGatewayRejectsMissingCredential(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/protected", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGatewayAcceptsBearerSession(t *testing.T) {
	f := newGatewayFixture(t)
	accessToken := f.loginToken(t)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+accessToken)

	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "user-1" {
		t.Errorf("expected the resolved user id in the body, got %q", body)
	}
	if resp.Header.Get(CsrfHeader) == "" {
		t.Error("expected a csrf token to be issued on GET")
	}
}

func TestGatewayRejectsBadBearerToken(t *testing.T) {
	f := newGatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer bogus")

	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGatewayEnforcesCsrfOnMutations(t *testing.T) {
	f := newGatewayFixture(t)
	accessToken := f.loginToken(t)

	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+accessToken)

	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 without a csrf token, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "CSRF_REJECTED") {
		t.Errorf("expected a CSRF_REJECTED error code, got %s", body)
	}
}

func TestGatewayAcceptsMutationWithCsrfToken(t *testing.T) {
	f := newGatewayFixture(t)
	accessToken := f.loginToken(t)

	// The token is issued on a safe request first.
	getReq := httptest.NewRequest(http.MethodGet, "/protected", nil)
	getReq.Header.Set(fiber.HeaderAuthorization, "Bearer "+accessToken)
	getResp, err := f.app.Test(getReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	csrfToken := getResp.Header.Get(CsrfHeader)
	if csrfToken == "" {
		t.Fatal("expected a csrf token from the GET request")
	}

	postReq := httptest.NewRequest(http.MethodPost, "/protected", nil)
	postReq.Header.Set(fiber.HeaderAuthorization, "Bearer "+accessToken)
	postReq.Header.Set(CsrfHeader, csrfToken)

	postResp, err := f.app.Test(postReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if postResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with a valid csrf token, got %d", postResp.StatusCode)
	}
}

func TestGatewayAcceptsAPIKeyHeader(t *testing.T) {
	f := newGatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/readonly", nil)
	req.Header.Set(APIKeyHeader, f.rawKey)

	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGatewayAcceptsAPIKeyQueryParam(t *testing.T) {
	f := newGatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/readonly?api_key="+f.rawKey, nil)

	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestGatewayRejectsAPIKeyWithoutPermission(t *testing.T) {
	f := newGatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(APIKeyHeader, f.rawKey)

	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestGatewayRejectsUnknownAPIKey(t *testing.T) {
	f := newGatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/readonly", nil)
	req.Header.Set(APIKeyHeader, "tk_live_wrong")

	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}
