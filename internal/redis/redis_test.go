package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/puzzleboard/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotCache_PutAndGet(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewSnapshotCache(client, time.Hour, discardLogger())
	ctx := context.Background()

	snap := &domain.CompletionSnapshot{
		RoomID:    "abcd1234",
		FetchedAt: time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC),
		Members:   []domain.Member{{ID: 1, Name: "alice"}},
		Completions: map[int64][]domain.CompletionEvent{
			1: {{
				MemberID:    1,
				Puzzle:      domain.Puzzle{Year: 2025, Day: 1, Part: domain.PartFirst},
				CompletedAt: time.Date(2025, 12, 1, 6, 0, 0, 0, time.UTC),
			}},
		},
	}
	require.NoError(t, cache.Put(ctx, snap))

	got, err := cache.Get(ctx, "abcd1234")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.RoomID, got.RoomID)
	assert.True(t, snap.FetchedAt.Equal(got.FetchedAt))
	assert.Equal(t, snap.Members, got.Members)
	require.Len(t, got.Completions[1], 1)
	assert.Equal(t, snap.Completions[1][0].Puzzle, got.Completions[1][0].Puzzle)
}

func TestSnapshotCache_MissReturnsNil(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewSnapshotCache(client, time.Hour, discardLogger())

	got, err := cache.Get(context.Background(), "missing0")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotCache_CorruptEntryTreatedAsMiss(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewSnapshotCache(client, time.Hour, discardLogger())

	require.NoError(t, mr.Set("room:abcd1234:snapshot", "{not json"))

	got, err := cache.Get(context.Background(), "abcd1234")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotCache_EntryExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewSnapshotCache(client, time.Minute, discardLogger())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, &domain.CompletionSnapshot{RoomID: "abcd1234"}))
	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMembershipStore_PutGetList(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewMembershipStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "dev1", domain.RoomMembershipRecord{RoomID: "zzzz0000"}))
	require.NoError(t, store.Put(ctx, "dev1", domain.RoomMembershipRecord{RoomID: "aaaa0000", IsAdmin: true}))

	got, err := store.Get(ctx, "dev1", "aaaa0000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsAdmin)

	records, err := store.List(ctx, "dev1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "aaaa0000", records[0].RoomID)
	assert.Equal(t, "zzzz0000", records[1].RoomID)
}

func TestMembershipStore_MissingRecord(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewMembershipStore(client)

	got, err := store.Get(context.Background(), "dev1", "nosuchrm")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMembershipStore_DevicesAreIsolated(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewMembershipStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "dev1", domain.RoomMembershipRecord{RoomID: "abcd1234"}))

	records, err := store.List(ctx, "dev2")
	require.NoError(t, err)
	assert.Empty(t, records)
}
