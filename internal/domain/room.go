package domain

import "time"

// Room is a private competitive grouping tied to one upstream board and the
// session credential used to read it.
type Room struct {
	ID           string    `json:"id"`
	BoardID      int64     `json:"board_id"`
	SessionToken string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoomMembershipRecord is the device-local record of a room the user belongs
// to. Records are appended when a room is visited or created and are never
// removed; the admin flag only ever escalates.
type RoomMembershipRecord struct {
	RoomID  string `json:"room_id"`
	IsAdmin bool   `json:"is_admin"`
}

// MutationAction is the kind of roster mutation
type MutationAction string

const (
	MutationEnroll   MutationAction = "enroll"
	MutationUnenroll MutationAction = "unenroll"
)

// RosterMutation is an administrator-issued change to a room's enrolled set,
// delivered over the mutation topic or the HTTP API.
type RosterMutation struct {
	EventID    string         `json:"event_id,omitempty"`
	RoomID     string         `json:"room_id"`
	Action     MutationAction `json:"action"`
	MemberID   int64          `json:"member_id"`
	MemberName string         `json:"member_name,omitempty"`
}
