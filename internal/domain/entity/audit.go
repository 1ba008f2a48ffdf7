package entity

import (
	"encoding/json"
	"time"
)

// AuditEvent is an immutable record of one state change. The canonical
// history of an entity is its events ordered by CreatedAt, then ID.
type AuditEvent struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   int64      `json:"entity_id"`
	Event      string     `json:"event"`
	ActorID    string     `json:"actor_id,omitempty"`
	ActorRole  string     `json:"actor_role,omitempty"`
	Payload    string     `json:"payload,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DecodePayload unmarshals the JSON payload. An empty payload decodes to an
// empty map.
func (e *AuditEvent) DecodePayload() (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if e.Payload == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(e.Payload), &out); err != nil {
		return nil, err
	}
	return out, nil
}
