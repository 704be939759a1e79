package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/telegrid/backend/internal/domain"
)

// PostgresSecurityEventRepository is the append-only durable audit log.
// Rows are never updated or deleted here; retention is an external concern.
type PostgresSecurityEventRepository struct {
	db *sql.DB
}

func NewPostgresSecurityEventRepository(db *sql.DB) *PostgresSecurityEventRepository {
	return &PostgresSecurityEventRepository{db: db}
}

func (r *PostgresSecurityEventRepository) Append(ctx context.Context, event domain.SecurityEvent) (*domain.SecurityEvent, error) {
	query := `
		INSERT INTO security_events (user_id, kind, severity, details, ip_address, user_agent, session_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var metadata []byte
	if event.Metadata != nil {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = encoded
	}

	err := r.db.QueryRowContext(ctx, query,
		event.UserID,
		event.Kind,
		event.Severity,
		toNullStringValue(event.Details),
		toNullStringValue(event.IPAddress),
		toNullStringValue(event.UserAgent),
		toNullStringValue(event.SessionID),
		metadata,
		createdAt,
	).Scan(&event.ID)
	if err != nil {
		return nil, err
	}

	event.CreatedAt = createdAt
	return &event, nil
}

func (r *PostgresSecurityEventRepository) FindRecentByUserID(ctx context.Context, userID string, since time.Time, limit int) ([]domain.SecurityEvent, error) {
	query := `
		SELECT id, user_id, kind, severity, details, ip_address, user_agent, session_id, metadata, created_at
		FROM security_events
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.SecurityEvent
	for rows.Next() {
		var event domain.SecurityEvent
		var details, ipAddress, userAgent, sessionID sql.NullString
		var metadata []byte

		err := rows.Scan(
			&event.ID,
			&event.UserID,
			&event.Kind,
			&event.Severity,
			&details,
			&ipAddress,
			&userAgent,
			&sessionID,
			&metadata,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		event.Details = fromNullString(details)
		event.IPAddress = fromNullString(ipAddress)
		event.UserAgent = fromNullString(userAgent)
		event.SessionID = fromNullString(sessionID)
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &event.Metadata)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

var _ domain.SecurityEventRepository = (*PostgresSecurityEventRepository)(nil)
