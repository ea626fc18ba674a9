package collab

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	apperrors "github.com/casewire/collab-server-go/internal/errors"
	"github.com/casewire/collab-server-go/internal/model"
)

type MessageType string

// Client → server message types
const (
	TypeAuth   MessageType = "auth"
	TypeJoin   MessageType = "join"
	TypeLeave  MessageType = "leave"
	TypeUpdate MessageType = "update"
	TypeCursor MessageType = "cursor"
	TypeChat   MessageType = "chat"
	TypePing   MessageType = "ping"
)

// Server → client message types
const (
	TypePresence    MessageType = "presence"
	TypePong        MessageType = "pong"
	TypeError       MessageType = "error"
	TypeAuthSuccess MessageType = "auth_success"
)

// Websocket close codes
const (
	CloseAuthRequired = 4001
	CloseAuthFailed   = 4003
)

// Message is the wire frame. Every frame is one UTF-8 JSON text message;
// which fields are populated depends on Type.
type Message struct {
	Type      MessageType     `json:"type"`
	CaseID    int64           `json:"caseId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	UserColor string          `json:"userColor,omitempty"`
	Content   string          `json:"content,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Users     []model.Member  `json:"users,omitempty"`
	Token     string          `json:"token,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ParseClientMessage decodes an inbound frame and validates the fields
// required for its kind. Server-only and unknown types are rejected.
func ParseClientMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, apperrors.ProtocolViolation("malformed JSON frame").WithCause(err)
	}

	switch msg.Type {
	case TypeAuth:
		if msg.Token == "" {
			return nil, apperrors.MissingRequired("token")
		}
	case TypeJoin:
		if msg.CaseID <= 0 {
			return nil, apperrors.MissingRequired("caseId")
		}
	case TypeChat:
		if msg.Content == "" {
			return nil, apperrors.MissingRequired("content")
		}
	case TypeUpdate, TypeCursor:
		if len(msg.Data) == 0 {
			return nil, apperrors.MissingRequired("data")
		}
	case TypeLeave, TypePing:
		// no payload
	case "":
		return nil, apperrors.MissingRequired("type")
	default:
		return nil, apperrors.ProtocolViolation("unknown message type: " + string(msg.Type))
	}

	return &msg, nil
}

// SanitizeChat strips NUL bytes and caps the content at maxChatLength
// characters. Content is otherwise relayed verbatim; rendering is the
// client's concern.
func SanitizeChat(content string) string {
	content = strings.ReplaceAll(content, "\x00", "")
	if utf8.RuneCountInString(content) > maxChatLength {
		runes := []rune(content)
		content = string(runes[:maxChatLength])
	}
	return content
}

func errorMessage(err error) *Message {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}
	return &Message{Type: TypeError, Message: appErr.Message}
}
