package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzzleboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

const snapshotKeyPrefix = "room:%s:snapshot"

// SnapshotCache persists the latest completion snapshot per room. The cache
// is a warm-start optimization only; the refresh loop remains the sole writer
// and a cache miss simply means the room starts in the not-yet-loaded state.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewSnapshotCache creates a snapshot cache with the given retention
func NewSnapshotCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Put stores a room's snapshot, replacing any previous one
func (c *SnapshotCache) Put(ctx context.Context, snapshot *domain.CompletionSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	key := fmt.Sprintf(snapshotKeyPrefix, snapshot.RoomID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("storing snapshot for room %s: %w", snapshot.RoomID, err)
	}
	return nil
}

// Get retrieves a room's cached snapshot. A miss returns (nil, nil).
func (c *SnapshotCache) Get(ctx context.Context, roomID string) (*domain.CompletionSnapshot, error) {
	key := fmt.Sprintf(snapshotKeyPrefix, roomID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading snapshot for room %s: %w", roomID, err)
	}

	var snapshot domain.CompletionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// A corrupt cache entry is worth a warning, not a failure; the
		// refresh loop will overwrite it on the next pull.
		c.logger.Warn("discarding corrupt cached snapshot", "room_id", roomID, "error", err)
		return nil, nil
	}
	return &snapshot, nil
}
