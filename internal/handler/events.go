package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campusmatch/call-server-go/internal/middleware"
	"github.com/campusmatch/call-server-go/internal/service"
	"github.com/campusmatch/call-server-go/internal/sse"
)

// EventsHandler streams call hints and session transitions to a connected
// client over SSE. On connect it replays the user's ringing sessions from
// the store, which is how a receiver that missed the broadcast hint (or
// reconnected mid-ring) converges on the same incoming call.
type EventsHandler struct {
	broker      *sse.Broker
	callService *service.CallService
}

func NewEventsHandler(broker *sse.Broker, callService *service.CallService) *EventsHandler {
	return &EventsHandler{
		broker:      broker,
		callService: callService,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(userID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("userId", userID).Msg("sse connection established")

	ctx := r.Context()

	if err := h.sendPendingRings(w, flusher, userID, r); err != nil {
		log.Error().Err(err).Msg("failed to replay pending rings")
	}

	if err := h.sendEvent(w, flusher, "connected", map[string]any{"userId": userID}); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to send connected event")
		return
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("userId", userID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("userId", userID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("userId", userID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendPendingRings(w http.ResponseWriter, flusher http.Flusher, userID string, r *http.Request) error {
	sessions, err := h.callService.ListActiveOrRinging(r.Context(), userID)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		// Only rings the user is on the receiving end of need surfacing.
		if session.ReceiverID != userID {
			continue
		}

		data, err := json.Marshal(sse.TransitionData{SessionID: session.ID, Status: session.Status})
		if err != nil {
			return err
		}

		if err := h.sendRawEvent(w, flusher, sse.Event{Type: sse.EventTypeCallTransition, Data: data}); err != nil {
			return err
		}
	}

	return nil
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
