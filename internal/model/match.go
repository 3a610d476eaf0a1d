package model

import "time"

// Match is the relationship context that authorizes a call between two
// users. Matching itself is owned by an external collaborator; this core
// only reads matches to enforce the authorization boundary.
type Match struct {
	ID        string      `db:"id" json:"id"`
	UserA     string      `db:"user_a" json:"userA"`
	UserB     string      `db:"user_b" json:"userB"`
	Status    MatchStatus `db:"status" json:"status"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}

// Pairs reports whether the match joins the two given users, in either order.
func (m *Match) Pairs(x, y string) bool {
	return (m.UserA == x && m.UserB == y) || (m.UserA == y && m.UserB == x)
}
