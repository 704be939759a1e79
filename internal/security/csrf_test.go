package security

import (
	"context"
	"strings"
	"testing"

	"github.com/telegrid/backend/internal/cache"
)

func newTestCsrf() (*CsrfService, *cache.Memory) {
	c := cache.NewMemory()
	return NewCsrfService("csrf-test-secret", c), c
}

func TestCsrfGenerateAndValidate(t *testing.T) {
	svc, _ := newTestCsrf()
	ctx := context.Background()

	token, err := svc.Generate(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 2 {
		t.Fatalf("expected 'random.signature' token, got %q", token)
	}

	if !svc.Validate(ctx, token, "session-1") {
		t.Error("expected token to validate for its own session")
	}
}

func TestCsrfRejectsOtherSession(t *testing.T) {
	svc, _ := newTestCsrf()
	ctx := context.Background()

	token, err := svc.Generate(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if svc.Validate(ctx, token, "session-2") {
		t.Error("expected token to fail for a different session")
	}
}

func TestCsrfRejectsMalformedTokens(t *testing.T) {
	svc, _ := newTestCsrf()
	ctx := context.Background()

	if _, err := svc.Generate(ctx, "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, token := range []string{"", "no-dot", "a.b.c", ".sig", "random."} {
		if svc.Validate(ctx, token, "session-1") {
			t.Errorf("expected %q to be rejected", token)
		}
	}
}

func TestCsrfRejectsTamperedSignature(t *testing.T) {
	svc, _ := newTestCsrf()
	ctx := context.Background()

	token, err := svc.Generate(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + strings.Repeat("0", len(parts[1]))
	if svc.Validate(ctx, tampered, "session-1") {
		t.Error("expected tampered signature to be rejected")
	}
}

func TestCsrfRotateInvalidatesPriorToken(t *testing.T) {
	svc, _ := newTestCsrf()
	ctx := context.Background()

	first, err := svc.Generate(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Rotate(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if svc.Validate(ctx, first, "session-1") {
		t.Error("expected rotated-out token to stop validating")
	}
	if !svc.Validate(ctx, second, "session-1") {
		t.Error("expected replacement token to validate")
	}
}

func TestCsrfGetOrCreateReturnsExisting(t *testing.T) {
	svc, _ := newTestCsrf()
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.GetOrCreate(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected GetOrCreate to return the cached token")
	}
}

func TestCsrfForget(t *testing.T) {
	svc, _ := newTestCsrf()
	ctx := context.Background()

	token, err := svc.Generate(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Forget(ctx, "session-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if svc.Validate(ctx, token, "session-1") {
		t.Error("expected forgotten token to be rejected")
	}
}
