// Package service implements the room operations: creation, roster
// management, and standings derivation. It composes the roster store, the
// membership reconciler, the refresh coordinator, and the scoring engine.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzzleboard/internal/domain"
	"github.com/puzzleboard/internal/membership"
	"github.com/puzzleboard/internal/puzzles"
	"github.com/puzzleboard/internal/refresh"
	"github.com/puzzleboard/internal/scoring"
)

const (
	roomIDLength   = 8
	roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	createRetries  = 5
)

// RosterStore is the persistent room and enrollment store
type RosterStore interface {
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	Enroll(ctx context.Context, roomID string, memberID int64, memberName string) (*domain.Enrollment, error)
	Unenroll(ctx context.Context, roomID string, memberID int64) error
	ListEnrollments(ctx context.Context, roomID string) ([]domain.Enrollment, error)
}

// SnapshotSource serves the latest completion snapshot per room. EnsureView
// is leased, not refcounted: HTTP reads have no disconnect event to release
// a view on, so they extend a lease that lapses on its own.
type SnapshotSource interface {
	EnsureView(roomID string)
	CurrentSnapshot(roomID string) (*domain.CompletionSnapshot, refresh.Info, error)
}

// StandingsView is a room's ranked standings plus the freshness of the data
// they derive from
type StandingsView struct {
	Entries     []domain.StandingsEntry `json:"entries"`
	Stale       bool                    `json:"stale"`
	RefreshedAt time.Time               `json:"refreshed_at"`
}

// RoomService implements room operations
type RoomService struct {
	store      RosterStore
	snapshots  SnapshotSource
	reconciler *membership.Reconciler
	logger     *slog.Logger
}

// NewRoomService creates a room service
func NewRoomService(store RosterStore, snapshots SnapshotSource, reconciler *membership.Reconciler, logger *slog.Logger) *RoomService {
	return &RoomService{
		store:      store,
		snapshots:  snapshots,
		reconciler: reconciler,
		logger:     logger,
	}
}

// CreateRoom registers a new room bound to an upstream board and grants the
// creating device admin standing. Room ids are short random strings; an id
// collision is retried with a fresh id.
func (s *RoomService) CreateRoom(ctx context.Context, deviceID string, boardID int64, sessionToken string) (*domain.Room, error) {
	if boardID <= 0 || sessionToken == "" {
		return nil, fmt.Errorf("%w: board id and session token are required", domain.ErrInvalidRequest)
	}

	var room *domain.Room
	for attempt := 0; attempt < createRetries; attempt++ {
		id, err := newRoomID()
		if err != nil {
			return nil, fmt.Errorf("generating room id: %w", err)
		}
		candidate := &domain.Room{ID: id, BoardID: boardID, SessionToken: sessionToken}
		err = s.store.CreateRoom(ctx, candidate)
		if err == nil {
			room = candidate
			break
		}
		if !errors.Is(err, domain.ErrRoomExists) {
			return nil, err
		}
		s.logger.Warn("room id collision, retrying", "room_id", id)
	}
	if room == nil {
		return nil, fmt.Errorf("creating room: %w", domain.ErrRoomExists)
	}

	if err := s.reconciler.MarkAdmin(ctx, deviceID, room.ID); err != nil {
		return nil, err
	}
	s.snapshots.EnsureView(room.ID)

	s.logger.Info("room created", "room_id", room.ID, "board_id", boardID)
	return room, nil
}

// GetRoom retrieves a room by id
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.store.GetRoom(ctx, roomID)
}

// Puzzles returns the full ordered puzzle sequence the room competes over
func (s *RoomService) Puzzles(ctx context.Context, roomID string) ([]domain.Puzzle, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	now := time.Now()
	return puzzles.ForYears(puzzles.Years(now), now), nil
}

// Roster returns who may be enrolled in a room and who currently is.
// Eligibility is presence on the upstream board, read from the latest
// snapshot.
func (s *RoomService) Roster(ctx context.Context, roomID string) (*domain.Roster, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	s.snapshots.EnsureView(roomID)

	snap, _, err := s.snapshots.CurrentSnapshot(roomID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.store.ListEnrollments(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &domain.Roster{Eligible: snap.Members, Enrolled: enrolled}, nil
}

// Completions returns the room's latest completion snapshot with its
// freshness info
func (s *RoomService) Completions(ctx context.Context, roomID string) (*domain.CompletionSnapshot, refresh.Info, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, refresh.Info{}, err
	}
	s.snapshots.EnsureView(roomID)
	return s.snapshots.CurrentSnapshot(roomID)
}

// Standings derives the room's ranked standings from the latest snapshot.
// Once a first snapshot has loaded this never fails on upstream trouble: it
// serves the retained data with the stale flag set instead.
func (s *RoomService) Standings(ctx context.Context, roomID string) (*StandingsView, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	s.snapshots.EnsureView(roomID)

	snap, info, err := s.snapshots.CurrentSnapshot(roomID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.store.ListEnrollments(ctx, roomID)
	if err != nil {
		return nil, err
	}

	members := make([]domain.Member, len(enrolled))
	for i, e := range enrolled {
		members[i] = e.Member
	}
	now := time.Now()
	entries := scoring.ComputeStandings(puzzles.ForYears(puzzles.Years(now), now), members, snap)

	return &StandingsView{
		Entries:     entries,
		Stale:       info.Stale,
		RefreshedAt: info.RefreshedAt,
	}, nil
}

// Enroll adds an eligible member to a room's standings. The local admin check
// fails fast; the roster store remains the final authority and local state is
// only touched after it confirms the write.
func (s *RoomService) Enroll(ctx context.Context, deviceID, roomID string, memberID int64, memberName string) (*domain.Enrollment, error) {
	if err := s.requireAdmin(ctx, deviceID, roomID); err != nil {
		return nil, err
	}
	if memberID <= 0 {
		return nil, fmt.Errorf("%w: member id is required", domain.ErrInvalidRequest)
	}

	name, err := s.resolveEligibleName(roomID, memberID, memberName)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.store.Enroll(ctx, roomID, memberID, name)
	if err != nil {
		return nil, err
	}

	s.reconciler.OnRosterMutationSucceeded(roomID)
	s.logger.Info("member enrolled", "room_id", roomID, "member_id", memberID)
	return enrollment, nil
}

// Unenroll removes a member from a room's standings. The membership record of
// whoever enrolled them is untouched; my-rooms lists never shrink.
func (s *RoomService) Unenroll(ctx context.Context, deviceID, roomID string, memberID int64) error {
	if err := s.requireAdmin(ctx, deviceID, roomID); err != nil {
		return err
	}

	if err := s.store.Unenroll(ctx, roomID, memberID); err != nil {
		return err
	}

	s.reconciler.OnRosterMutationSucceeded(roomID)
	s.logger.Info("member unenrolled", "room_id", roomID, "member_id", memberID)
	return nil
}

// MyRooms lists every room the device has visited or created
func (s *RoomService) MyRooms(ctx context.Context, deviceID string) ([]domain.RoomMembershipRecord, error) {
	return s.reconciler.ListMyRooms(ctx, deviceID)
}

// VisitRoom records that the device has seen the room and ensures its
// standings are being refreshed
func (s *RoomService) VisitRoom(ctx context.Context, deviceID, roomID string) error {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return err
	}
	if err := s.reconciler.RecordVisit(ctx, deviceID, roomID); err != nil {
		return err
	}
	s.snapshots.EnsureView(roomID)
	return nil
}

// ApplyRosterMutation applies a mutation delivered over the broker. The
// broker path is already authenticated upstream, so no device admin check
// happens here.
func (s *RoomService) ApplyRosterMutation(ctx context.Context, m domain.RosterMutation) error {
	if _, err := s.store.GetRoom(ctx, m.RoomID); err != nil {
		return err
	}

	switch m.Action {
	case domain.MutationEnroll:
		name, err := s.resolveEligibleName(m.RoomID, m.MemberID, m.MemberName)
		if err != nil {
			return err
		}
		if _, err := s.store.Enroll(ctx, m.RoomID, m.MemberID, name); err != nil {
			return err
		}
	case domain.MutationUnenroll:
		if err := s.store.Unenroll(ctx, m.RoomID, m.MemberID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown mutation action %q", domain.ErrInvalidRequest, m.Action)
	}

	s.reconciler.OnRosterMutationSucceeded(m.RoomID)
	return nil
}

func (s *RoomService) requireAdmin(ctx context.Context, deviceID, roomID string) error {
	admin, err := s.reconciler.IsAdmin(ctx, deviceID, roomID)
	if err != nil {
		return err
	}
	if !admin {
		return domain.ErrPermissionDenied
	}
	return nil
}

// resolveEligibleName checks the member appears on the upstream board and
// fills in their display name when the caller omitted it. Before the first
// snapshot loads there is nothing to check against, so the mutation waits.
func (s *RoomService) resolveEligibleName(roomID string, memberID int64, memberName string) (string, error) {
	snap, _, err := s.snapshots.CurrentSnapshot(roomID)
	if err != nil {
		return "", err
	}
	for _, m := range snap.Members {
		if m.ID == memberID {
			if memberName != "" {
				return memberName, nil
			}
			return m.Name, nil
		}
	}
	return "", fmt.Errorf("member %d: %w", memberID, domain.ErrNotEligible)
}

// newRoomID generates a short random room id
func newRoomID() (string, error) {
	buf := make([]byte, roomIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return string(buf), nil
}
