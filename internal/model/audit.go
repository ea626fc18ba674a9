package model

import (
	"encoding/json"
	"time"
)

type AuditEvent struct {
	ID           string           `db:"id" json:"id"`
	EventType    string           `db:"event_type" json:"eventType"`
	UserID       *string          `db:"user_id" json:"userId,omitempty"`
	ResourceType *string          `db:"resource_type" json:"resourceType,omitempty"`
	ResourceID   *string          `db:"resource_id" json:"resourceId,omitempty"`
	IP           *string          `db:"ip" json:"ip,omitempty"`
	Details      *json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
}
