package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/safenest/safenest/internal/pipeline"
)

// The internal fan-out API is called by the external chat-administration
// service after it mutates the membership store, so already-connected members
// hear about rooms created or joined mid-session without reconnecting.

// ChatCreated joins connected members to a new room's channel and announces
// it.
func (h *Handler) ChatCreated(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	if err := h.gw.AnnounceChatCreated(r.Context(), roomID); err != nil {
		if errors.Is(err, pipeline.ErrRoomNotFound) {
			h.Error(w, http.StatusNotFound, "room not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to announce room")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "announced"})
}

// participantsRequest is the participants-added request body.
type participantsRequest struct {
	IdentityIDs []string `json:"identity_ids"`
}

// ParticipantsAdded joins newly added members' live connections to the room
// channel and notifies the room.
func (h *Handler) ParticipantsAdded(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	var req participantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.IdentityIDs) == 0 {
		h.Error(w, http.StatusBadRequest, "identity_ids is required")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IdentityIDs))
	for _, raw := range req.IdentityIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid identity ID format")
			return
		}
		ids = append(ids, id)
	}

	if err := h.gw.AnnounceParticipantsAdded(r.Context(), roomID, ids); err != nil {
		if errors.Is(err, pipeline.ErrRoomNotFound) {
			h.Error(w, http.StatusNotFound, "room not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to announce participants")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "announced"})
}
