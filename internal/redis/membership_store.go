package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/puzzleboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

const membershipKeyPrefix = "membership:%s"

// MembershipStore keeps each device's room membership records in a Redis
// hash keyed by device id. The store is append-only by contract: records are
// written and overwritten, never deleted, so a room stays on the my-rooms
// list even after the member is unenrolled from its standings.
type MembershipStore struct {
	client *redis.Client
}

// NewMembershipStore creates a membership store
func NewMembershipStore(client *redis.Client) *MembershipStore {
	return &MembershipStore{client: client}
}

// Put writes a membership record for a device, overwriting any existing
// record for the same room
func (s *MembershipStore) Put(ctx context.Context, deviceID string, record domain.RoomMembershipRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling membership record: %w", err)
	}

	key := fmt.Sprintf(membershipKeyPrefix, deviceID)
	if err := s.client.HSet(ctx, key, record.RoomID, data).Err(); err != nil {
		return fmt.Errorf("storing membership record for device %s: %w", deviceID, err)
	}
	return nil
}

// Get retrieves a device's record for one room; a missing record returns
// (nil, nil)
func (s *MembershipStore) Get(ctx context.Context, deviceID, roomID string) (*domain.RoomMembershipRecord, error) {
	key := fmt.Sprintf(membershipKeyPrefix, deviceID)
	data, err := s.client.HGet(ctx, key, roomID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("loading membership record for device %s: %w", deviceID, err)
	}

	var record domain.RoomMembershipRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling membership record: %w", err)
	}
	return &record, nil
}

// List returns every membership record for a device, sorted by room id
func (s *MembershipStore) List(ctx context.Context, deviceID string) ([]domain.RoomMembershipRecord, error) {
	key := fmt.Sprintf(membershipKeyPrefix, deviceID)
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("listing membership records for device %s: %w", deviceID, err)
	}

	records := make([]domain.RoomMembershipRecord, 0, len(raw))
	for _, data := range raw {
		var record domain.RoomMembershipRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("unmarshaling membership record: %w", err)
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].RoomID < records[j].RoomID
	})
	return records, nil
}
