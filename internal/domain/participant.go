package domain

import "time"

type Role string

const (
	RoleClinician Role = "clinician"
	RolePatient   Role = "patient"
	RoleObserver  Role = "observer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClinician, RolePatient, RoleObserver:
		return true
	}
	return false
}

// ParticipantSession is one connected tab/device. Several sessions may belong
// to the same user (reconnects, duplicated tabs).
type ParticipantSession struct {
	SessionID   string
	UserID      string
	DisplayName string
	Role        Role
	ConnectedAt time.Time
}

// Participant is the per-user view presence exposes to the room: one entry
// per user ID no matter how many sessions they hold.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	JoinedAt    int64  `json:"joined_at_unix"`
}
