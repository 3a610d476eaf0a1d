package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/campusmatch/call-server-go/internal/middleware"
	"github.com/campusmatch/call-server-go/internal/presence"
)

type PresenceHandler struct {
	oracle *presence.Oracle
}

func NewPresenceHandler(oracle *presence.Oracle) *PresenceHandler {
	return &PresenceHandler{oracle: oracle}
}

func (h *PresenceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/heartbeat", h.Heartbeat)
	r.Delete("/", h.MarkOffline)
	r.Get("/{userId}", h.Get)

	return r
}

// POST /v1/presence/heartbeat
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.oracle.Heartbeat(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("heartbeat failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to record heartbeat"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DELETE /v1/presence
func (h *PresenceHandler) MarkOffline(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.oracle.MarkOffline(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("mark offline failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to mark offline"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /v1/presence/{userId}
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	record, err := h.oracle.Get(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("presence lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read presence"})
		return
	}

	writeJSON(w, http.StatusOK, record)
}
