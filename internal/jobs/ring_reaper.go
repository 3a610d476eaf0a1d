package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campusmatch/call-server-go/internal/model"
	"github.com/campusmatch/call-server-go/internal/repository"
	"github.com/campusmatch/call-server-go/internal/service"
)

// RingReaper is the backstop behind the per-dial ring timers: if a process
// dies with timers in memory, its ringing rows would otherwise stay ringing
// forever. The reaper sweeps overdue rows through the same conditional
// transition the timers use, so a concurrently firing timer or a late accept
// still wins or loses atomically at the store.
type RingReaper struct {
	sessions repository.CallSessionRepository
	broker   service.Broadcaster
	window   time.Duration
	grace    time.Duration
	interval time.Duration
	done     chan struct{}
}

func NewRingReaper(
	sessions repository.CallSessionRepository,
	broker service.Broadcaster,
	window, grace, interval time.Duration,
) *RingReaper {
	return &RingReaper{
		sessions: sessions,
		broker:   broker,
		window:   window,
		grace:    grace,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *RingReaper) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("ring reaper started")
}

func (j *RingReaper) Stop() {
	close(j.done)
	log.Info().Msg("ring reaper stopped")
}

func (j *RingReaper) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *RingReaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-(j.window + j.grace))
	overdue, err := j.sessions.ListOverdueRinging(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("ring reaper: failed to list overdue sessions")
		return
	}

	reaped := 0
	for _, session := range overdue {
		now := time.Now()
		committed, err := j.sessions.ConditionalTransition(ctx, session.ID, model.CallStatusRinging, model.CallStatusMissed, nil, &now)
		if err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("ring reaper: transition failed")
			continue
		}
		if !committed {
			continue
		}
		reaped++

		for _, userID := range []string{session.CallerID, session.ReceiverID} {
			if err := j.broker.PublishTransition(ctx, userID, session.ID, model.CallStatusMissed); err != nil {
				log.Warn().Err(err).Str("sessionId", session.ID).Msg("ring reaper: failed to publish transition")
			}
		}
		if err := j.broker.PublishMissedCall(ctx, session.ReceiverID, session.ID, session.CallerID); err != nil {
			log.Warn().Err(err).Str("sessionId", session.ID).Msg("ring reaper: failed to publish missed call")
		}
	}

	if reaped > 0 {
		log.Info().Int("count", reaped).Msg("ring reaper: marked stale rings missed")
	}
}
