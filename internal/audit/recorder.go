package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/casewire/collab-server-go/internal/model"
	"github.com/casewire/collab-server-go/internal/repository"
)

const insertTimeout = 5 * time.Second

// Recorder logs every event and, when a repository is configured, also
// persists it asynchronously. Persistence is best-effort: an insert failure
// is logged and never reaches the code path that raised the event.
type Recorder struct {
	repo repository.AuditRepository
}

// NewRecorder accepts a nil repository, in which case events are log-only.
func NewRecorder(repo repository.AuditRepository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) Record(ctx context.Context, event Event) {
	Log(ctx, event)

	if r == nil || r.repo == nil {
		return
	}

	row := model.AuditEvent{
		ID:        uuid.NewString(),
		EventType: string(event.Type),
		CreatedAt: time.Now(),
	}
	if event.UserID != "" {
		row.UserID = &event.UserID
	}
	if event.ResourceType != "" {
		row.ResourceType = &event.ResourceType
	}
	if event.ResourceID != "" {
		row.ResourceID = &event.ResourceID
	}
	if event.IP != "" {
		row.IP = &event.IP
	}
	if len(event.Details) > 0 {
		if data, err := json.Marshal(event.Details); err == nil {
			raw := json.RawMessage(data)
			row.Details = &raw
		}
	}

	go func() {
		insertCtx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()
		if err := r.repo.Insert(insertCtx, row); err != nil {
			log.Warn().Err(err).Str("eventType", row.EventType).Msg("failed to persist audit event")
		}
	}()
}
