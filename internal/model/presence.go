package model

import "time"

// PresenceRecord is a user's self-reported availability. Latest write wins,
// no history is kept.
type PresenceRecord struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}
