package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
)

// AuditService appends to and reads from the audit log
type AuditService interface {
	port.AuditRecorder

	// History returns an entity's events ordered by created_at, then id
	History(ctx context.Context, entityType entity.EntityType, entityID int64) ([]*entity.AuditEvent, error)
}

type auditServiceImpl struct {
	auditRepo port.AuditRepository
	now       func() time.Time
	logger    Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(auditRepo port.AuditRepository, logger Logger) AuditService {
	return &auditServiceImpl{
		auditRepo: auditRepo,
		now:       time.Now,
		logger:    logger,
	}
}

// Record appends one event. The payload is stored as JSON text. When ctx
// carries a transaction the event commits with it.
func (s *auditServiceImpl) Record(ctx context.Context, entityType entity.EntityType, entityID int64, event string, actor entity.Caller, payload interface{}) (*entity.AuditEvent, error) {
	if !entityType.IsValid() {
		return nil, validation("unknown entity type", map[string]interface{}{"entity_type": string(entityType)})
	}
	if event == "" {
		return nil, validation("event name is required", nil)
	}

	var body string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal audit payload: %w", err)
		}
		body = string(raw)
	}

	ev := &entity.AuditEvent{
		EntityType: entityType,
		EntityID:   entityID,
		Event:      event,
		ActorID:    actor.UserID,
		ActorRole:  string(actor.Role),
		Payload:    body,
		CreatedAt:  s.now().UTC(),
	}

	if err := s.auditRepo.Append(ctx, ev); err != nil {
		s.logger.Error("Failed to append audit event",
			"error", err,
			"entity_type", entityType,
			"entity_id", entityID,
			"event", event,
		)
		return nil, fmt.Errorf("append audit event: %w", err)
	}

	return ev, nil
}

// History returns an entity's events in canonical order
func (s *auditServiceImpl) History(ctx context.Context, entityType entity.EntityType, entityID int64) ([]*entity.AuditEvent, error) {
	if !entityType.IsValid() {
		return nil, validation("unknown entity type", map[string]interface{}{"entity_type": string(entityType)})
	}

	events, err := s.auditRepo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	if events == nil {
		events = []*entity.AuditEvent{}
	}
	return events, nil
}
