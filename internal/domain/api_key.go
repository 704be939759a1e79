package domain

import (
	"context"
	"time"
)

// APIKey is a long-lived machine credential tied to a license. The raw key
// is never stored; rows are looked up by its SHA-256 hash.
type APIKey struct {
	ID          string
	UserID      string
	KeyHash     string
	Name        string
	Permissions []string
	IsActive    bool
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// HasPermission reports whether the key grants the named permission. The
// wildcard "*" satisfies any requirement.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == "*" || p == perm {
			return true
		}
	}
	return false
}

type APIKeyRepository interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}
