package model

// CallStatus is the lifecycle state of a call session.
// Keep values stable because they are persisted and part of the public API.
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusActive   CallStatus = "active"
	CallStatusRejected CallStatus = "rejected"
	CallStatusMissed   CallStatus = "missed"
	CallStatusEnded    CallStatus = "ended"
)

// IsTerminal reports whether the status is immutable once persisted.
// Only ringing admits further transitions; active admits exactly one (ended).
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusRejected, CallStatusMissed, CallStatusEnded:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a valid transition:
// ringing -> {active, rejected, missed} and active -> ended, nothing else.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallStatusRinging:
		return next == CallStatusActive || next == CallStatusRejected || next == CallStatusMissed
	case CallStatusActive:
		return next == CallStatusEnded
	}
	return false
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type MatchStatus string

const (
	MatchStatusActive    MatchStatus = "active"
	MatchStatusUnmatched MatchStatus = "unmatched"
)

// TokenRole is the media-channel role a credential grants.
type TokenRole string

const (
	RolePublisher  TokenRole = "publisher"
	RoleSubscriber TokenRole = "subscriber"
)
