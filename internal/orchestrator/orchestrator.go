package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/campusmatch/call-server-go/internal/errors"
	"github.com/campusmatch/call-server-go/internal/model"
)

// State is the client-side call state. One orchestrator instance owns one
// user's "current call" slot; there is never more than one live call per
// client.
type State string

const (
	StateIdle            State = "idle"
	StateDialing         State = "dialing"
	StateRingingOutgoing State = "ringingOutgoing"
	StateRingingIncoming State = "ringingIncoming"
	StateConnecting      State = "connecting"
	StateActiveCall      State = "activeCall"
)

// IncomingCall is the normalized representation both delivery paths (hint
// and change feed) converge on, keyed by session id.
type IncomingCall struct {
	SessionID   string
	CallerID    string
	ChannelName string
	Credential  string
	AppID       string
	CallType    model.CallType
	MatchID     string
}

// Backend is the signaling surface the orchestrator drives. In-process it is
// the call service; a remote client wraps the HTTP API.
type Backend interface {
	Dial(ctx context.Context, receiverID, matchID string, callType model.CallType) (session *model.CallSession, targetOnline bool, err error)
	Accept(ctx context.Context, sessionID string) (session *model.CallSession, credential string, err error)
	Reject(ctx context.Context, sessionID string) error
	Hangup(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*model.CallSession, error)
}

// MediaGateway joins and leaves the media provider's channel. Media
// transport itself is out of scope; this is only the join/leave gate between
// connecting and activeCall.
type MediaGateway interface {
	Join(ctx context.Context, appID, channelName, credential string) error
	Leave(ctx context.Context) error
}

// Notification is emitted on every state change.
type Notification struct {
	State     State
	SessionID string
	Reason    string
}

// Orchestrator is a single-threaded event loop: all state lives on the loop
// goroutine, API methods and subscription callbacks only post work onto it.
// Backend round-trips run off-loop and post their results back, so the loop
// never blocks on the network.
type Orchestrator struct {
	backend Backend
	media   MediaGateway
	selfID  string
	notify  func(Notification)

	ops  chan func()
	done chan struct{}

	state    State
	current  *IncomingCall
	surfaced map[string]bool
}

func New(backend Backend, media MediaGateway, selfID string, notify func(Notification)) *Orchestrator {
	if notify == nil {
		notify = func(Notification) {}
	}
	o := &Orchestrator{
		backend:  backend,
		media:    media,
		selfID:   selfID,
		notify:   notify,
		ops:      make(chan func(), 64),
		done:     make(chan struct{}),
		state:    StateIdle,
		surfaced: make(map[string]bool),
	}
	go o.run()
	return o
}

func (o *Orchestrator) run() {
	for {
		select {
		case <-o.done:
			return
		case op := <-o.ops:
			op()
		}
	}
}

// post schedules fn onto the loop. Dropped silently after Close.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.ops <- fn:
	case <-o.done:
	}
}

func (o *Orchestrator) Close() {
	close(o.done)
}

// State reports the current state. Test and diagnostics helper; the loop is
// the only writer.
func (o *Orchestrator) State() State {
	result := make(chan State, 1)
	o.post(func() { result <- o.state })
	select {
	case s := <-result:
		return s
	case <-o.done:
		return StateIdle
	case <-time.After(time.Second):
		return StateIdle
	}
}

func (o *Orchestrator) setState(state State, sessionID, reason string) {
	o.state = state
	o.notify(Notification{State: state, SessionID: sessionID, Reason: reason})
}

// Dial places an outgoing call. Ignored unless idle.
func (o *Orchestrator) Dial(receiverID, matchID string, callType model.CallType) {
	o.post(func() {
		if o.state != StateIdle {
			log.Warn().Str("state", string(o.state)).Msg("dial ignored: not idle")
			return
		}
		o.setState(StateDialing, "", "")

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			session, targetOnline, err := o.backend.Dial(ctx, receiverID, matchID, callType)
			o.post(func() {
				if o.state != StateDialing {
					return
				}
				if err != nil {
					log.Warn().Err(err).Msg("dial failed")
					o.setState(StateIdle, "", string(apperrors.GetCode(err)))
					return
				}
				if !targetOnline {
					log.Info().Str("receiverId", receiverID).Msg("target appears offline, ringing anyway")
				}
				o.current = &IncomingCall{
					SessionID:   session.ID,
					CallerID:    session.CallerID,
					ChannelName: session.ChannelName,
					Credential:  session.Credential,
					AppID:       session.AppID,
					CallType:    session.CallType,
					MatchID:     session.MatchID,
				}
				o.setState(StateRingingOutgoing, session.ID, "")
			})
		}()
	})
}

// AbandonDial returns to idle while an outgoing ring is in flight (caller
// navigated away). The server-side ring window resolves the session.
func (o *Orchestrator) AbandonDial() {
	o.post(func() {
		if o.state != StateDialing && o.state != StateRingingOutgoing {
			return
		}
		o.current = nil
		o.setState(StateIdle, "", "abandoned")
	})
}

// HandleHint feeds the broadcast delivery path. A hint for an
// already-surfaced session id is a no-op.
func (o *Orchestrator) HandleHint(hint model.CallHint) {
	o.post(func() {
		o.surfaceIncoming(IncomingCall{
			SessionID:   hint.SessionID,
			CallerID:    hint.CallerID,
			ChannelName: hint.ChannelName,
			Credential:  hint.Credential,
			AppID:       hint.AppID,
			CallType:    hint.CallType,
			MatchID:     hint.MatchID,
		})
	})
}

// HandleTransition feeds the change-feed delivery path. A fresh ringing
// notification triggers a store fetch to build the same IncomingCall the
// hint path would have produced; terminal notifications resolve whatever is
// in flight for that session id.
func (o *Orchestrator) HandleTransition(sessionID string, status model.CallStatus) {
	o.post(func() {
		switch status {
		case model.CallStatusRinging:
			if o.surfaced[sessionID] {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				session, err := o.backend.Get(ctx, sessionID)
				o.post(func() {
					if err != nil || session == nil {
						log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to fetch ringing session")
						return
					}
					if session.ReceiverID != o.selfID || session.Status != model.CallStatusRinging {
						return
					}
					o.surfaceIncoming(IncomingCall{
						SessionID:   session.ID,
						CallerID:    session.CallerID,
						ChannelName: session.ChannelName,
						Credential:  session.Credential,
						AppID:       session.AppID,
						CallType:    session.CallType,
						MatchID:     session.MatchID,
					})
				})
			}()

		case model.CallStatusActive:
			// Caller side: receiver accepted, move to the media join.
			if o.state == StateRingingOutgoing && o.current != nil && o.current.SessionID == sessionID {
				o.joinMedia(*o.current)
			}

		case model.CallStatusRejected, model.CallStatusMissed, model.CallStatusEnded:
			delete(o.surfaced, sessionID)
			if o.current != nil && o.current.SessionID == sessionID {
				o.current = nil
				if o.state == StateActiveCall || o.state == StateConnecting {
					go func() {
						ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = o.media.Leave(ctx)
					}()
				}
				o.setState(StateIdle, sessionID, string(status))
			}
		}
	})
}

// surfaceIncoming merges both delivery paths into one prompt per session id.
// Runs on the loop.
func (o *Orchestrator) surfaceIncoming(call IncomingCall) {
	if o.surfaced[call.SessionID] {
		return
	}
	o.surfaced[call.SessionID] = true

	if o.state != StateIdle {
		// Already on a call; the other side resolves via reject or timeout.
		log.Info().
			Str("sessionId", call.SessionID).
			Str("state", string(o.state)).
			Msg("incoming call while busy, not surfacing")
		return
	}

	o.current = &call
	o.setState(StateRingingIncoming, call.SessionID, "")
}

// Accept answers the surfaced incoming call. A TransitionConflict from the
// backend means the session was resolved elsewhere; the prompt withdraws
// silently.
func (o *Orchestrator) Accept() {
	o.post(func() {
		if o.state != StateRingingIncoming || o.current == nil {
			return
		}
		call := *o.current
		o.setState(StateConnecting, call.SessionID, "")

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			_, credential, err := o.backend.Accept(ctx, call.SessionID)
			o.post(func() {
				if o.state != StateConnecting || o.current == nil || o.current.SessionID != call.SessionID {
					return
				}
				if err != nil {
					if apperrors.GetCode(err) == apperrors.ErrCodeTransitionConflict {
						delete(o.surfaced, call.SessionID)
						o.current = nil
						o.setState(StateIdle, call.SessionID, "resolved elsewhere")
						return
					}
					// Network failure: still ringing, visibly retryable; the
					// caller-side window expires it if retries never land.
					log.Warn().Err(err).Str("sessionId", call.SessionID).Msg("accept failed")
					o.setState(StateRingingIncoming, call.SessionID, string(apperrors.GetCode(err)))
					return
				}
				o.current.Credential = credential
				o.joinMedia(*o.current)
			})
		}()
	})
}

// Reject declines the surfaced incoming call.
func (o *Orchestrator) Reject() {
	o.post(func() {
		if o.state != StateRingingIncoming || o.current == nil {
			return
		}
		sessionID := o.current.SessionID
		delete(o.surfaced, sessionID)
		o.current = nil
		o.setState(StateIdle, sessionID, "rejected")

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			// Conflict here is benign: someone else already resolved it.
			if err := o.backend.Reject(ctx, sessionID); err != nil &&
				apperrors.GetCode(err) != apperrors.ErrCodeTransitionConflict {
				log.Warn().Err(err).Str("sessionId", sessionID).Msg("reject failed")
			}
		}()
	})
}

// Hangup ends the active call. The peer having hung up first is success.
func (o *Orchestrator) Hangup() {
	o.post(func() {
		if o.state != StateActiveCall || o.current == nil {
			return
		}
		sessionID := o.current.SessionID
		delete(o.surfaced, sessionID)
		o.current = nil
		o.setState(StateIdle, sessionID, "hangup")

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = o.media.Leave(ctx)
			if err := o.backend.Hangup(ctx, sessionID); err != nil {
				log.Warn().Err(err).Str("sessionId", sessionID).Msg("hangup failed")
			}
		}()
	})
}

// joinMedia runs the connecting -> activeCall hop. Runs on the loop.
func (o *Orchestrator) joinMedia(call IncomingCall) {
	o.setState(StateConnecting, call.SessionID, "")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		err := o.media.Join(ctx, call.AppID, call.ChannelName, call.Credential)
		o.post(func() {
			if o.state != StateConnecting || o.current == nil || o.current.SessionID != call.SessionID {
				return
			}
			if err != nil {
				log.Error().Err(err).Str("sessionId", call.SessionID).Msg("media join failed")
				sessionID := call.SessionID
				delete(o.surfaced, sessionID)
				o.current = nil
				o.setState(StateIdle, sessionID, "media join failed")
				go func() {
					hctx, hcancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer hcancel()
					_ = o.backend.Hangup(hctx, sessionID)
				}()
				return
			}
			o.setState(StateActiveCall, call.SessionID, "")
		})
	}()
}
