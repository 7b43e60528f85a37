package domain

import "time"

// Member is a participant known to the upstream board. A member is
// "eligible" when it appears on the board and "enrolled" once an
// administrator has added it to the room's standings.
type Member struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Enrollment records an eligible member that is part of a room's standings
type Enrollment struct {
	Member
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Roster is a room's membership view at one refresh instant
type Roster struct {
	Eligible []Member     `json:"eligible_members"`
	Enrolled []Enrollment `json:"enrolled_members"`
}
