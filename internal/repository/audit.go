package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/casewire/collab-server-go/internal/database"
	"github.com/casewire/collab-server-go/internal/model"
)

type AuditRepository interface {
	Insert(ctx context.Context, event model.AuditEvent) error
	FindByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]model.AuditEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditRepo struct {
	db database.DBTX
}

func NewAuditRepository(db *sqlx.DB) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, event model.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, user_id, resource_type, resource_id, ip, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.EventType, event.UserID, event.ResourceType, event.ResourceID, event.IP, event.Details, event.CreatedAt)
	return err
}

func (r *auditRepo) FindByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM audit_events
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, resourceType, resourceID, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *auditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM audit_events WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
