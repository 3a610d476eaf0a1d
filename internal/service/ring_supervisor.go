package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campusmatch/call-server-go/internal/model"
	"github.com/campusmatch/call-server-go/internal/repository"
)

// RingSupervisor enforces the bounded ring window. One single-shot timer is
// armed per dialed session; whichever of accept, reject or the timer commits
// first wins at the store, so a late fire is a harmless no-op.
type RingSupervisor struct {
	sessions repository.CallSessionRepository
	broker   Broadcaster
	window   time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewRingSupervisor(sessions repository.CallSessionRepository, broker Broadcaster, window time.Duration) *RingSupervisor {
	return &RingSupervisor{
		sessions: sessions,
		broker:   broker,
		window:   window,
		timers:   make(map[string]*time.Timer),
	}
}

// Arm starts the ring timer for a freshly created session. Re-arming an
// already armed session id is a no-op.
func (s *RingSupervisor) Arm(session *model.CallSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.timers[session.ID]; exists {
		return
	}

	id := session.ID
	callerID := session.CallerID
	receiverID := session.ReceiverID

	s.timers[id] = time.AfterFunc(s.window, func() {
		s.expire(id, callerID, receiverID)
	})

	log.Debug().
		Str("sessionId", id).
		Dur("window", s.window).
		Msg("ring timer armed")
}

// Cancel tears down the timer for a session. Idempotent; safe to call for
// sessions that were never armed or already fired.
func (s *RingSupervisor) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
		delete(s.timers, sessionID)
		log.Debug().Str("sessionId", sessionID).Msg("ring timer cancelled")
	}
}

// Stop cancels all outstanding timers. Used on shutdown; the ring reaper
// picks up anything left ringing after a restart.
func (s *RingSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *RingSupervisor) expire(sessionID, callerID, receiverID string) {
	s.mu.Lock()
	delete(s.timers, sessionID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	committed, err := s.sessions.ConditionalTransition(ctx, sessionID, model.CallStatusRinging, model.CallStatusMissed, nil, &now)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("ring timeout transition failed")
		return
	}
	if !committed {
		// Already resolved by accept or reject; nothing to do.
		return
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("callerId", callerID).
		Msg("call missed: ring window elapsed")

	publishTransition(ctx, s.broker, sessionID, model.CallStatusMissed, callerID, receiverID)

	if err := s.broker.PublishMissedCall(ctx, receiverID, sessionID, callerID); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to publish missed call event")
	}
}

// publishTransition fans a committed status change out to both participants'
// feed channels. Best-effort: the durable row is already committed.
func publishTransition(ctx context.Context, broker Broadcaster, sessionID string, status model.CallStatus, userIDs ...string) {
	for _, userID := range userIDs {
		if err := broker.PublishTransition(ctx, userID, sessionID, status); err != nil {
			log.Warn().Err(err).
				Str("sessionId", sessionID).
				Str("userId", userID).
				Msg("failed to publish transition")
		}
	}
}
