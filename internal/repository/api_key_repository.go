package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telegrid/backend/internal/domain"
)

type PostgresAPIKeyRepository struct {
	db *sql.DB
}

func NewPostgresAPIKeyRepository(db *sql.DB) *PostgresAPIKeyRepository {
	return &PostgresAPIKeyRepository{db: db}
}

func (r *PostgresAPIKeyRepository) FindByKeyHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := `
		SELECT id, user_id, key_hash, name, permissions, is_active, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE key_hash = $1
	`

	var key domain.APIKey
	var expiresAt, lastUsedAt sql.NullTime
	var permissions []byte

	err := r.db.QueryRowContext(ctx, query, keyHash).Scan(
		&key.ID,
		&key.UserID,
		&key.KeyHash,
		&key.Name,
		&permissions,
		&key.IsActive,
		&expiresAt,
		&lastUsedAt,
		&key.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &key.Permissions); err != nil {
			return nil, fmt.Errorf("corrupt permissions for api key %s: %w", key.ID, err)
		}
	}
	key.ExpiresAt = fromNullTime(expiresAt)
	key.LastUsedAt = fromNullTime(lastUsedAt)
	return &key, nil
}

func (r *PostgresAPIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, at)
	return err
}

var _ domain.APIKeyRepository = (*PostgresAPIKeyRepository)(nil)
