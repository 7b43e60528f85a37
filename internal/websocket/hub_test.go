package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/puzzleboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeViews struct {
	mu     sync.Mutex
	opened map[string]int
	closed map[string]int
}

func newFakeViews() *fakeViews {
	return &fakeViews{opened: make(map[string]int), closed: make(map[string]int)}
}

func (f *fakeViews) OpenView(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened[roomID]++
}

func (f *fakeViews) CloseView(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[roomID]++
}

func (f *fakeViews) counts(roomID string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[roomID], f.closed[roomID]
}

func newRunningHub(t *testing.T, views ViewManager) *Hub {
	t.Helper()
	hub := NewHub(views, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newHubClient(hub *Hub) *Client {
	return &Client{
		id:   "test-client",
		hub:  hub,
		send: make(chan []byte, 16),
	}
}

func TestHub_SubscriptionHoldsView(t *testing.T) {
	views := newFakeViews()
	hub := newRunningHub(t, views)

	client := newHubClient(hub)
	hub.Register(client)
	hub.Subscribe(client, "abcd1234")

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount("abcd1234") == 1
	}, time.Second, 5*time.Millisecond)

	opened, closed := views.counts("abcd1234")
	assert.Equal(t, 1, opened)
	assert.Zero(t, closed)

	hub.Unsubscribe(client, "abcd1234")
	require.Eventually(t, func() bool {
		_, closed := views.counts("abcd1234")
		return closed == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.GetSubscriberCount("abcd1234"))
}

func TestHub_DisconnectReleasesViews(t *testing.T) {
	views := newFakeViews()
	hub := newRunningHub(t, views)

	client := newHubClient(hub)
	hub.Register(client)
	hub.Subscribe(client, "abcd1234")
	hub.Subscribe(client, "wxyz9876")

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount("abcd1234") == 1 && hub.GetSubscriberCount("wxyz9876") == 1
	}, time.Second, 5*time.Millisecond)

	hub.Unregister(client)

	require.Eventually(t, func() bool {
		_, closedA := views.counts("abcd1234")
		_, closedB := views.counts("wxyz9876")
		return closedA == 1 && closedB == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.GetTotalConnections())
}

func TestHub_StandingsUpdateReachesSubscribersOnly(t *testing.T) {
	hub := newRunningHub(t, newFakeViews())

	watcher := newHubClient(hub)
	bystander := newHubClient(hub)
	hub.Register(watcher)
	hub.Register(bystander)
	hub.Subscribe(watcher, "abcd1234")

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount("abcd1234") == 1
	}, time.Second, 5*time.Millisecond)

	hub.BroadcastStandingsUpdate(StandingsUpdate{
		RoomID:      "abcd1234",
		Entries:     []domain.StandingsEntry{{MemberID: 1, Name: "alice", Score: 3, Rank: 1}},
		RefreshedAt: time.Now().UTC(),
	})

	select {
	case raw := <-watcher.send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, MessageTypeStandingsUpdate, msg.Type)
		assert.Equal(t, "abcd1234", msg.RoomID)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received standings update")
	}

	select {
	case <-bystander.send:
		t.Fatal("unsubscribed client received room-scoped update")
	case <-time.After(50 * time.Millisecond):
	}
}
