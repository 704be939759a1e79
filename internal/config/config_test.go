package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Auth.MaxSessions != DefaultMaxSessions {
		t.Errorf("expected max sessions %d, got %d", DefaultMaxSessions, cfg.Auth.MaxSessions)
	}
	if cfg.Auth.AccessTokenTTL != 24*time.Hour {
		t.Errorf("expected 24h access TTL, got %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("expected 7d refresh TTL, got %v", cfg.Auth.RefreshTokenTTL)
	}
	if cfg.Auth.IPEnforcement != "flag" {
		t.Errorf("expected flag enforcement, got %s", cfg.Auth.IPEnforcement)
	}
	if cfg.Server.BodyLimit != DefaultBodyLimitBytes {
		t.Errorf("expected body limit %d, got %d", DefaultBodyLimitBytes, cfg.Server.BodyLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "5")
	t.Setenv("JWT_EXPIRES_IN", "30m")
	t.Setenv("AUTH_IP_ENFORCEMENT", "block")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.MaxSessions != 5 {
		t.Errorf("expected 5 max sessions, got %d", cfg.Auth.MaxSessions)
	}
	if cfg.Auth.AccessTokenTTL != 30*time.Minute {
		t.Errorf("expected 30m access TTL, got %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.IPEnforcement != "block" {
		t.Errorf("expected block enforcement, got %s", cfg.Auth.IPEnforcement)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	tests := []struct {
		name string
		omit string
	}{
		{"missing jwt secret", "JWT_SECRET"},
		{"missing refresh secret", "JWT_REFRESH_SECRET"},
		{"missing csrf secret", "CSRF_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.omit, "")

			if _, err := Load(); err == nil {
				t.Errorf("expected an error when %s is unset", tt.omit)
			}
		})
	}
}

func TestLoadRejectsBadEnforcementMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_IP_ENFORCEMENT", "maybe")

	if _, err := Load(); err == nil {
		t.Error("expected an error for an unknown enforcement mode")
	}
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{"15m", 15 * time.Minute, false},
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"xd", 0, true},
		{"bogus", 0, true},
	}

	for _, tt := range tests {
		got, err := parseTTL(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected an error", tt.value)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.value, tt.want, got)
		}
	}
}
