package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AuditRepository implements port.AuditRepository. Rows are never updated or
// deleted; triggers in the schema reject both.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one audit event and sets its ID
func (r *AuditRepository) Append(ctx context.Context, event *entity.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			entity_type, entity_id, event, actor_id, actor_role, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		string(event.EntityType),
		event.EntityID,
		event.Event,
		event.ActorID,
		event.ActorRole,
		event.Payload,
		event.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append audit event",
			zap.String("entity_type", string(event.EntityType)),
			zap.Int64("entity_id", event.EntityID),
			zap.String("event", event.Event),
			zap.Error(err))
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	event.ID = id
	return nil
}

// ListByEntity returns an entity's events in canonical order
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType entity.EntityType, entityID int64) ([]*entity.AuditEvent, error) {
	query := `
		SELECT id, entity_type, entity_id, event, actor_id, actor_role, payload, created_at
		FROM audit_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, string(entityType), entityID)
	if err != nil {
		r.logger.Error("Failed to list audit events",
			zap.String("entity_type", string(entityType)),
			zap.Int64("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*entity.AuditEvent
	for rows.Next() {
		var e entity.AuditEvent
		var et string
		if err := rows.Scan(
			&e.ID,
			&et,
			&e.EntityID,
			&e.Event,
			&e.ActorID,
			&e.ActorRole,
			&e.Payload,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.EntityType = entity.EntityType(et)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, &e)
	}

	return events, rows.Err()
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
