package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/telegrid/backend/internal/domain"
)

const sessionColumns = `id, user_id, access_token, refresh_token, ip_address, user_agent, is_active, created_at, last_activity_at, expires_at`

type PostgresSessionRepository struct {
	db *sql.DB
}

func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

func (r *PostgresSessionRepository) Create(ctx context.Context, input domain.CreateSessionInput) (*domain.Session, error) {
	query := `
		INSERT INTO sessions (id, user_id, access_token, refresh_token, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + sessionColumns

	row := r.db.QueryRowContext(ctx, query,
		input.ID,
		input.UserID,
		input.AccessToken,
		input.RefreshToken,
		toNullStringValue(input.IPAddress),
		toNullStringValue(input.UserAgent),
		input.ExpiresAt,
	)
	return scanSession(row)
}

func (r *PostgresSessionRepository) FindByAccessToken(ctx context.Context, accessToken string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE access_token = $1 AND is_active = TRUE`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, accessToken))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return session, err
}

func (r *PostgresSessionRepository) FindByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token = $1 AND is_active = TRUE`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, refreshToken))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return session, err
}

func (r *PostgresSessionRepository) FindActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func (r *PostgresSessionRepository) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND is_active = TRUE`

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Rotate swaps the session's identity in a single conditional update keyed on
// the refresh token. The condition doubles as the compare-and-swap against
// concurrent rotations on the same token.
func (r *PostgresSessionRepository) Rotate(ctx context.Context, input domain.RotateSessionInput) (*domain.Session, error) {
	query := `
		UPDATE sessions
		SET id = $1, access_token = $2, expires_at = $3, last_activity_at = NOW()
		WHERE refresh_token = $4 AND is_active = TRUE
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRowContext(ctx, query,
		input.NewID,
		input.NewToken,
		input.NewExpiresAt,
		input.RefreshToken,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return session, err
}

// Retire marks the session inactive. Retiring an inactive or unknown session
// is a no-op returning (nil, nil).
func (r *PostgresSessionRepository) Retire(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		UPDATE sessions
		SET is_active = FALSE
		WHERE id = $1 AND is_active = TRUE
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

func (r *PostgresSessionRepository) RetireByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	query := `
		UPDATE sessions
		SET is_active = FALSE
		WHERE user_id = $1 AND is_active = TRUE
		RETURNING ` + sessionColumns

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func (r *PostgresSessionRepository) TouchActivity(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, sessionID, at)
	return err
}

func (r *PostgresSessionRepository) RetireExpired(ctx context.Context) (int64, error) {
	query := `UPDATE sessions SET is_active = FALSE WHERE is_active = TRUE AND expires_at <= NOW()`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	return scanSessionRow(row)
}

func scanSessionRow(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var ipAddress, userAgent sql.NullString

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.AccessToken,
		&session.RefreshToken,
		&ipAddress,
		&userAgent,
		&session.IsActive,
		&session.CreatedAt,
		&session.LastActivityAt,
		&session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	session.IPAddress = ipAddress.String
	session.UserAgent = userAgent.String
	return &session, nil
}

var _ domain.SessionRepository = (*PostgresSessionRepository)(nil)
