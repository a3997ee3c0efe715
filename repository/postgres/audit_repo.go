package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/repository"
)

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository returns a Postgres-backed access audit trail.
func NewAuditRepository(pool *pgxpool.Pool) repository.AuditRepository {
	return &auditRepository{pool: pool}
}

// Append is idempotent on the event ID so replays from the outbox are harmless.
func (r *auditRepository) Append(ctx context.Context, event *domain.AccessEvent) error {
	if event == nil {
		return domain.ErrInvalidPayload
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Touch()

	const query = `
	INSERT INTO access_events (id, decision, reason, path, profile_id, token_fingerprint, remote_addr, user_agent, request_id, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		string(event.Decision),
		event.Reason,
		event.Path,
		event.ProfileID,
		event.Fingerprint,
		event.RemoteAddr,
		event.UserAgent,
		event.RequestID,
		jsonb(event.Metadata),
		event.CreatedAt,
	)
	return err
}

func (r *auditRepository) List(ctx context.Context, filter repository.AuditFilter) ([]domain.AccessEvent, error) {
	const query = `
	SELECT id, decision, reason, path, profile_id, token_fingerprint, remote_addr, user_agent, request_id, metadata, created_at
	FROM access_events
	WHERE ($1 = '' OR decision = $1)
	  AND ($2 = '' OR profile_id = $2)
	  AND ($3::timestamptz IS NULL OR created_at >= $3)
	ORDER BY created_at DESC
	LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		string(filter.Decision),
		filter.ProfileID,
		optionalTime(filter.Since),
		pageSize(filter.Limit),
		filter.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AccessEvent
	for rows.Next() {
		event, err := scanAccessEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func scanAccessEvent(row interface {
	Scan(dest ...interface{}) error
}) (*domain.AccessEvent, error) {
	var (
		event    domain.AccessEvent
		decision string
		metadata []byte
	)

	if err := row.Scan(
		&event.ID,
		&decision,
		&event.Reason,
		&event.Path,
		&event.ProfileID,
		&event.Fingerprint,
		&event.RemoteAddr,
		&event.UserAgent,
		&event.RequestID,
		&metadata,
		&event.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewError(domain.ErrCodeNotFound, "access event not found")
		}
		return nil, err
	}

	event.Decision = domain.DecisionKind(decision)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &event.Metadata)
	}
	return &event, nil
}
