package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/casewire/collab-server-go/internal/audit"
	"github.com/casewire/collab-server-go/internal/model"
	"github.com/casewire/collab-server-go/internal/session"
)

type SessionHandler struct {
	store    *session.Store
	recorder *audit.Recorder
}

func NewSessionHandler(store *session.Store, recorder *audit.Recorder) *SessionHandler {
	return &SessionHandler{store: store, recorder: recorder}
}

// POST /internal/sessions
// Minted by the main application after it authenticates a user; the token
// is handed to the browser for the websocket handshake.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if req.UserID == "" || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId and username are required"})
		return
	}

	token, sess, err := h.store.Create(model.CreateSessionParams{
		UserID:    req.UserID,
		Username:  req.Username,
		OriginIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create session"})
		return
	}

	h.recorder.Record(r.Context(), audit.Event{
		Type:   audit.EventSessionCreate,
		UserID: sess.UserID,
		IP:     sess.OriginIP,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     token,
		"userId":    sess.UserID,
		"username":  sess.Username,
		"expiresAt": formatTime(sess.ExpiresAt),
	})
}

// DELETE /internal/sessions/{token}
func (h *SessionHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	sess := h.store.Validate(token)
	h.store.Destroy(token)

	if sess != nil {
		h.recorder.Record(r.Context(), audit.Event{
			Type:   audit.EventSessionDestroy,
			UserID: sess.UserID,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// DELETE /internal/users/{userID}/sessions
// Revokes every session a user holds, e.g. on password change.
func (h *SessionHandler) DestroyAll(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userID is required"})
		return
	}

	revoked := h.store.DestroyAllForUser(userID)

	h.recorder.Record(r.Context(), audit.Event{
		Type:    audit.EventSessionsRevoked,
		UserID:  userID,
		Details: map[string]interface{}{"revoked": revoked},
	})

	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}
