package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/campusmatch/call-server-go/internal/errors"
	"github.com/campusmatch/call-server-go/internal/middleware"
	"github.com/campusmatch/call-server-go/internal/service"
)

type CallHandler struct {
	callService *service.CallService
}

func NewCallHandler(callService *service.CallService) *CallHandler {
	return &CallHandler{
		callService: callService,
	}
}

func (h *CallHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Dial)
	r.Get("/active", h.ListActive)
	r.Get("/{sessionId}", h.Get)
	r.Post("/{sessionId}/accept", h.Accept)
	r.Post("/{sessionId}/reject", h.Reject)
	r.Post("/{sessionId}/hangup", h.Hangup)

	return r
}

// POST /v1/calls
func (h *CallHandler) Dial(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var params service.DialParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.callService.Dial(r.Context(), userID, params)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Msg("dial failed")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/calls/{sessionId}
func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.callService.Get(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GET /v1/calls/active
func (h *CallHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sessions, err := h.callService.ListActiveOrRinging(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// POST /v1/calls/{sessionId}/accept
func (h *CallHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	result, err := h.callService.Accept(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/calls/{sessionId}/reject
func (h *CallHandler) Reject(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.callService.Reject(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /v1/calls/{sessionId}/hangup
func (h *CallHandler) Hangup(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.callService.Hangup(r.Context(), userID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}
