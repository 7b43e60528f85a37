package domain

import "time"

// CompletionEvent records one member finishing one puzzle
type CompletionEvent struct {
	MemberID    int64     `json:"member_id"`
	Puzzle      Puzzle    `json:"puzzle"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompletionSnapshot is an immutable capture of every completion event for a
// room at one refresh instant. A new refresh produces a whole new snapshot;
// snapshots are never merged or mutated after construction.
type CompletionSnapshot struct {
	RoomID      string                      `json:"room_id"`
	FetchedAt   time.Time                   `json:"fetched_at"`
	Members     []Member                    `json:"members"`
	Completions map[int64][]CompletionEvent `json:"completions"`
}

// Events returns the completion events recorded for a member, which may be nil
func (s *CompletionSnapshot) Events(memberID int64) []CompletionEvent {
	if s == nil {
		return nil
	}
	return s.Completions[memberID]
}

// StandingsEntry is one row of a room's ranked standings, derived wholesale
// from a snapshot by the scoring engine and never mutated in place.
type StandingsEntry struct {
	MemberID int64  `json:"member_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}
