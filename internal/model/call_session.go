package model

import "time"

// CallSession is the single source of truth for one call attempt.
// Rows are never deleted; terminal rows remain as the audit trail.
type CallSession struct {
	ID          string     `db:"id" json:"id"`
	CallerID    string     `db:"caller_id" json:"callerId"`
	ReceiverID  string     `db:"receiver_id" json:"receiverId"`
	MatchID     string     `db:"match_id" json:"matchId"`
	ChannelName string     `db:"channel_name" json:"channelName"`
	Credential  string     `db:"credential" json:"credential,omitempty"`
	AppID       string     `db:"app_id" json:"appId"`
	CallType    CallType   `db:"call_type" json:"callType"`
	Status      CallStatus `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	AnsweredAt  *time.Time `db:"answered_at" json:"answeredAt,omitempty"`
	EndedAt     *time.Time `db:"ended_at" json:"endedAt,omitempty"`
}

// Involves reports whether userID is a participant of the session.
func (s *CallSession) Involves(userID string) bool {
	return s.CallerID == userID || s.ReceiverID == userID
}

type CreateCallSessionParams struct {
	ID          string
	CallerID    string
	ReceiverID  string
	MatchID     string
	ChannelName string
	Credential  string
	AppID       string
	CallType    CallType
}
