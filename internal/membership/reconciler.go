// Package membership keeps the per-device my-rooms list consistent with what
// the server confirms. All writes go through a single serialized path so two
// concurrent visits or admin grants can never interleave partial records.
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puzzleboard/internal/domain"
)

// Store is the persistence layer behind the reconciler
type Store interface {
	Put(ctx context.Context, deviceID string, record domain.RoomMembershipRecord) error
	Get(ctx context.Context, deviceID, roomID string) (*domain.RoomMembershipRecord, error)
	List(ctx context.Context, deviceID string) ([]domain.RoomMembershipRecord, error)
}

// Invalidator forces a room's standings to refresh ahead of schedule
type Invalidator interface {
	ForceInvalidate(roomID string)
}

// Reconciler owns all membership-record writes. Records are append-only and
// the admin flag only ever escalates; nothing here removes a record or
// revokes admin.
type Reconciler struct {
	mu          sync.Mutex
	store       Store
	invalidator Invalidator
	logger      *slog.Logger
}

// NewReconciler creates a membership reconciler
func NewReconciler(store Store, invalidator Invalidator, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:       store,
		invalidator: invalidator,
		logger:      logger,
	}
}

// ListMyRooms returns every room the device has visited, sorted by room id
func (r *Reconciler) ListMyRooms(ctx context.Context, deviceID string) ([]domain.RoomMembershipRecord, error) {
	return r.store.List(ctx, deviceID)
}

// RecordVisit ensures a membership record exists for the room. Re-visiting is
// a no-op and never disturbs an existing admin flag.
func (r *Reconciler) RecordVisit(ctx context.Context, deviceID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.Get(ctx, deviceID, roomID)
	if err != nil {
		return fmt.Errorf("recording visit: %w", err)
	}
	if existing != nil {
		return nil
	}

	record := domain.RoomMembershipRecord{RoomID: roomID}
	if err := r.store.Put(ctx, deviceID, record); err != nil {
		return fmt.Errorf("recording visit: %w", err)
	}
	r.logger.Info("membership record created", "device_id", deviceID, "room_id", roomID)
	return nil
}

// MarkAdmin grants the device admin standing for a room. The flag is
// monotonic: marking an already-admin record again changes nothing, and no
// code path ever clears it.
func (r *Reconciler) MarkAdmin(ctx context.Context, deviceID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.Get(ctx, deviceID, roomID)
	if err != nil {
		return fmt.Errorf("marking admin: %w", err)
	}
	if existing != nil && existing.IsAdmin {
		return nil
	}

	record := domain.RoomMembershipRecord{RoomID: roomID, IsAdmin: true}
	if err := r.store.Put(ctx, deviceID, record); err != nil {
		return fmt.Errorf("marking admin: %w", err)
	}
	r.logger.Info("admin standing granted", "device_id", deviceID, "room_id", roomID)
	return nil
}

// IsAdmin reports whether the device holds admin standing for the room. This
// is the local fast-fail check; the server-side credential remains the
// authority on whether a mutation actually succeeds.
func (r *Reconciler) IsAdmin(ctx context.Context, deviceID, roomID string) (bool, error) {
	record, err := r.store.Get(ctx, deviceID, roomID)
	if err != nil {
		return false, fmt.Errorf("checking admin standing: %w", err)
	}
	return record != nil && record.IsAdmin, nil
}

// OnRosterMutationSucceeded reacts to a confirmed roster change by forcing
// the room's standings to refresh. Failed mutations never reach this point,
// so local state is untouched when the server rejects a change.
func (r *Reconciler) OnRosterMutationSucceeded(roomID string) {
	if r.invalidator != nil {
		r.invalidator.ForceInvalidate(roomID)
	}
}
