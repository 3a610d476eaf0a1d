package model

// CallHint is the lightweight incoming-call payload pushed through the
// ephemeral broadcast path. It carries everything the receiver needs to ring
// without a store round-trip; the durable row stays authoritative for status.
type CallHint struct {
	SessionID    string   `json:"sessionId"`
	CallerID     string   `json:"callerId"`
	CallerName   string   `json:"callerName,omitempty"`
	CallerAvatar string   `json:"callerAvatar,omitempty"`
	ChannelName  string   `json:"channelName"`
	Credential   string   `json:"credential"`
	AppID        string   `json:"appId"`
	CallType     CallType `json:"callType"`
	MatchID      string   `json:"matchId"`
}
