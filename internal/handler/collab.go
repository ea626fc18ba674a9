package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/casewire/collab-server-go/internal/collab"
)

type CollabHandler struct {
	hub *collab.Hub
}

func NewCollabHandler(hub *collab.Hub) *CollabHandler {
	return &CollabHandler{hub: hub}
}

// GET /ws/collaboration
func (h *CollabHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.hub.HandleWS(w, r)
}

// GET /v1/cases/{caseID}/presence
func (h *CollabHandler) Presence(w http.ResponseWriter, r *http.Request) {
	caseID, err := parseCaseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid case id"})
		return
	}

	members := h.hub.CasePresence(caseID)
	writeJSON(w, http.StatusOK, map[string]any{
		"caseId": caseID,
		"users":  members,
	})
}

// POST /internal/cases/{caseID}/notify
// Bridge for other backend services: pushes an update event to every
// member of the case.
func (h *CollabHandler) Notify(w http.ResponseWriter, r *http.Request) {
	caseID, err := parseCaseID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid case id"})
		return
	}

	var req struct {
		UpdateType string         `json:"updateType"`
		Payload    map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if req.UpdateType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "updateType is required"})
		return
	}

	h.hub.NotifyCaseUpdate(caseID, req.UpdateType, req.Payload)

	log.Debug().Int64("caseId", caseID).Str("updateType", req.UpdateType).Msg("case update notified")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"caseId":     caseID,
		"recipients": h.hub.CasePresence(caseID),
	})
}

func parseCaseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "caseID"), 10, 64)
}
