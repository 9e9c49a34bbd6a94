package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/RichardoC/tele-agent/internal/apperr"
)

type GrantRequest struct {
	ConversationID int64  `json:"conversation_id"`
	DisplayName    string `json:"display_name"`
}

// HandleAccess lists (GET), grants (POST) or revokes (DELETE) access.
func (h *Handler) HandleAccess(w http.ResponseWriter, r *http.Request) {
	c, err := parseCaller(r)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		entries, err := h.pipeline.ListAccess(r.Context(), c.id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, entries)

	case http.MethodPost:
		var req GrantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.pipeline.GrantAccess(r.Context(), c.id, req.ConversationID, req.DisplayName); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodDelete:
		target, err := strconv.ParseInt(r.URL.Query().Get("target_id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid target ID", http.StatusBadRequest)
			return
		}
		removed, err := h.pipeline.RevokeAccess(r.Context(), c.id, target)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, err := parseCaller(r)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	target, err := targetID(r, c)
	if err != nil {
		http.Error(w, "Invalid target ID", http.StatusBadRequest)
		return
	}

	deleted, err := h.pipeline.ClearConversation(r.Context(), c.id, target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, err := parseCaller(r)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		h.writeError(w, apperr.Wrap(apperr.CodeInvalidArgument, "days must be an integer", err))
		return
	}

	deleted, err := h.pipeline.PurgeOlderThan(r.Context(), c.id, days)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, err := parseCaller(r)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	target, err := targetID(r, c)
	if err != nil {
		http.Error(w, "Invalid target ID", http.StatusBadRequest)
		return
	}

	stats, err := h.pipeline.UserStats(r.Context(), c.id, target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}
