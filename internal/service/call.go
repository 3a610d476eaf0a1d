package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/campusmatch/call-server-go/internal/errors"
	"github.com/campusmatch/call-server-go/internal/model"
	"github.com/campusmatch/call-server-go/internal/repository"
	"github.com/campusmatch/call-server-go/internal/util"
)

// Broadcaster is the ephemeral fan-out used for call hints and the session
// change feed. *sse.Broker satisfies it.
type Broadcaster interface {
	PublishHint(ctx context.Context, toUserID string, hint model.CallHint) error
	PublishTransition(ctx context.Context, userID, sessionID string, status model.CallStatus) error
	PublishMissedCall(ctx context.Context, userID, sessionID, callerID string) error
}

// PresenceChecker reports advisory availability. *presence.Oracle satisfies it.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// CredentialMinter issues channel-bound media credentials. *rtctoken.Minter
// satisfies it.
type CredentialMinter interface {
	AppID() string
	Mint(now time.Time, channelName, uid string, role model.TokenRole) (string, error)
}

// Supervisor arms and cancels per-session ring timers.
type Supervisor interface {
	Arm(session *model.CallSession)
	Cancel(sessionID string)
}

type DialParams struct {
	ReceiverID string         `json:"receiverId"`
	MatchID    string         `json:"matchId"`
	CallType   model.CallType `json:"callType"`
}

type DialResult struct {
	Session *model.CallSession `json:"session"`
	// TargetOnline is advisory: presence can lag reality, so a false here
	// asks the caller's UI for confirmation instead of blocking the dial.
	TargetOnline bool `json:"targetOnline"`
}

type AcceptResult struct {
	Session *model.CallSession `json:"session"`
	// Credential is minted for the accepting receiver; the session row
	// keeps the caller's.
	Credential string `json:"credential"`
}

type CallService struct {
	sessions   repository.CallSessionRepository
	matches    repository.MatchRepository
	presence   PresenceChecker
	minter     CredentialMinter
	broker     Broadcaster
	supervisor Supervisor
}

func NewCallService(
	sessions repository.CallSessionRepository,
	matches repository.MatchRepository,
	presence PresenceChecker,
	minter CredentialMinter,
	broker Broadcaster,
	supervisor Supervisor,
) *CallService {
	return &CallService{
		sessions:   sessions,
		matches:    matches,
		presence:   presence,
		minter:     minter,
		broker:     broker,
		supervisor: supervisor,
	}
}

// Dial places a call. Ordering matters: the busy check and credential mint
// happen before the row exists, so any failure leaves no side effects.
func (s *CallService) Dial(ctx context.Context, callerID string, params DialParams) (*DialResult, error) {
	if params.ReceiverID == "" {
		return nil, apperrors.MissingRequired("receiverId")
	}
	if params.ReceiverID == callerID {
		return nil, apperrors.InvalidInput("receiverId", "cannot call yourself")
	}
	if !params.CallType.Valid() {
		return nil, apperrors.InvalidInput("callType", "must be audio or video")
	}

	match, err := s.matches.FindActiveByID(ctx, params.MatchID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if match == nil || !match.Pairs(callerID, params.ReceiverID) {
		return nil, apperrors.UnauthorizedMatch()
	}

	busy, err := s.sessions.ListActiveOrRinging(ctx, params.ReceiverID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if len(busy) > 0 {
		return nil, apperrors.TargetBusy()
	}

	targetOnline, err := s.presence.IsOnline(ctx, params.ReceiverID)
	if err != nil {
		// Presence is advisory; a failed read never blocks a dial.
		log.Warn().Err(err).Str("userId", params.ReceiverID).Msg("presence check failed, assuming online")
		targetOnline = true
	}

	channelName, err := util.GenerateChannelName()
	if err != nil {
		return nil, apperrors.Internal("failed to generate channel name").WithCause(err)
	}

	credential, err := s.minter.Mint(time.Now(), channelName, callerID, model.RolePublisher)
	if err != nil {
		return nil, apperrors.MintFailure(err)
	}

	session, err := s.sessions.Create(ctx, model.CreateCallSessionParams{
		ID:          uuid.NewString(),
		CallerID:    callerID,
		ReceiverID:  params.ReceiverID,
		MatchID:     params.MatchID,
		ChannelName: channelName,
		Credential:  credential,
		AppID:       s.minter.AppID(),
		CallType:    params.CallType,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	// Best-effort latency optimization; the receiver's change feed (or an
	// external push) covers the case where this never lands.
	hint := model.CallHint{
		SessionID:   session.ID,
		CallerID:    session.CallerID,
		ChannelName: session.ChannelName,
		Credential:  session.Credential,
		AppID:       session.AppID,
		CallType:    session.CallType,
		MatchID:     session.MatchID,
	}
	if err := s.broker.PublishHint(ctx, session.ReceiverID, hint); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to publish call hint")
	}
	publishTransition(ctx, s.broker, session.ID, model.CallStatusRinging, session.ReceiverID)

	s.supervisor.Arm(session)

	log.Info().
		Str("sessionId", session.ID).
		Str("callerId", callerID).
		Str("receiverId", params.ReceiverID).
		Str("callType", string(params.CallType)).
		Bool("targetOnline", targetOnline).
		Msg("call dialed")

	return &DialResult{Session: session, TargetOnline: targetOnline}, nil
}

// Accept transitions ringing -> active. A false CAS means the session was
// already resolved elsewhere (timeout, reject, or a racing accept); the
// caller's UI withdraws silently on TransitionConflict.
func (s *CallService) Accept(ctx context.Context, userID, sessionID string) (*AcceptResult, error) {
	session, err := s.loadFor(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ReceiverID != userID {
		return nil, apperrors.Forbidden("Only the receiver can accept a call")
	}

	now := time.Now()
	committed, err := s.sessions.ConditionalTransition(ctx, sessionID, model.CallStatusRinging, model.CallStatusActive, &now, nil)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !committed {
		return nil, apperrors.TransitionConflict(sessionID)
	}

	s.supervisor.Cancel(sessionID)

	credential, err := s.minter.Mint(now, session.ChannelName, userID, model.RolePublisher)
	if err != nil {
		// The transition is already committed; surface the mint failure so
		// the receiver can retry joining, but do not roll the call back.
		return nil, apperrors.MintFailure(err)
	}

	session.Status = model.CallStatusActive
	session.AnsweredAt = &now

	publishTransition(ctx, s.broker, sessionID, model.CallStatusActive, session.CallerID, session.ReceiverID)

	log.Info().
		Str("sessionId", sessionID).
		Str("receiverId", userID).
		Msg("call accepted")

	return &AcceptResult{Session: session, Credential: credential}, nil
}

// Reject transitions ringing -> rejected, with the same conflict semantics
// as Accept.
func (s *CallService) Reject(ctx context.Context, userID, sessionID string) (*model.CallSession, error) {
	session, err := s.loadFor(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ReceiverID != userID {
		return nil, apperrors.Forbidden("Only the receiver can reject a call")
	}

	now := time.Now()
	committed, err := s.sessions.ConditionalTransition(ctx, sessionID, model.CallStatusRinging, model.CallStatusRejected, nil, &now)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !committed {
		return nil, apperrors.TransitionConflict(sessionID)
	}

	s.supervisor.Cancel(sessionID)

	session.Status = model.CallStatusRejected
	session.EndedAt = &now

	publishTransition(ctx, s.broker, sessionID, model.CallStatusRejected, session.CallerID, session.ReceiverID)

	log.Info().
		Str("sessionId", sessionID).
		Str("receiverId", userID).
		Msg("call rejected")

	return session, nil
}

// Hangup transitions active -> ended. Either participant may hang up; losing
// the CAS means the peer already ended the call, which is the goal state, so
// it is treated as success.
func (s *CallService) Hangup(ctx context.Context, userID, sessionID string) (*model.CallSession, error) {
	session, err := s.loadFor(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	committed, err := s.sessions.ConditionalTransition(ctx, sessionID, model.CallStatusActive, model.CallStatusEnded, nil, &now)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.supervisor.Cancel(sessionID)

	if !committed {
		current, err := s.sessions.FindByID(ctx, sessionID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if current != nil {
			return current, nil
		}
		return session, nil
	}

	session.Status = model.CallStatusEnded
	session.EndedAt = &now

	publishTransition(ctx, s.broker, sessionID, model.CallStatusEnded, session.CallerID, session.ReceiverID)

	log.Info().
		Str("sessionId", sessionID).
		Str("userId", userID).
		Msg("call ended")

	return session, nil
}

func (s *CallService) Get(ctx context.Context, userID, sessionID string) (*model.CallSession, error) {
	return s.loadFor(ctx, userID, sessionID)
}

func (s *CallService) ListActiveOrRinging(ctx context.Context, userID string) ([]model.CallSession, error) {
	sessions, err := s.sessions.ListActiveOrRinging(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}

func (s *CallService) loadFor(ctx context.Context, userID, sessionID string) (*model.CallSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Call session")
	}
	if !session.Involves(userID) {
		return nil, apperrors.Forbidden("Not a participant of this call")
	}
	return session, nil
}
