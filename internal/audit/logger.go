package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventConnectionAuthenticated EventType = "connection_authenticated"
	EventAuthFailure             EventType = "auth_failure"
	EventCaseJoined              EventType = "case_joined"
	EventCaseLeft                EventType = "case_left"
	EventSessionCreate           EventType = "session_create"
	EventSessionDestroy          EventType = "session_destroy"
	EventSessionsRevoked         EventType = "sessions_revoked"
)

type Event struct {
	Type         EventType
	UserID       string
	ResourceType string
	ResourceID   string
	IP           string
	UserAgent    string
	Details      map[string]interface{}
}

// Log emits the event to the structured log. Fire-and-forget; compliance
// traceability for join/leave and session lifecycle.
func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.UserID != "" {
		logger = logger.With().Str("user_id", event.UserID).Logger()
	}
	if event.ResourceType != "" {
		logger = logger.With().Str("resource_type", event.ResourceType).Logger()
	}
	if event.ResourceID != "" {
		logger = logger.With().Str("resource_id", event.ResourceID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
