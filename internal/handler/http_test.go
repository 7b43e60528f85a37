package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/puzzleboard/internal/domain"
	"github.com/puzzleboard/internal/membership"
	pbredis "github.com/puzzleboard/internal/redis"
	"github.com/puzzleboard/internal/refresh"
	"github.com/puzzleboard/internal/service"
	"github.com/puzzleboard/internal/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRosterStore struct {
	mu          sync.Mutex
	rooms       map[string]*domain.Room
	enrollments map[string][]domain.Enrollment
}

func newStubRosterStore() *stubRosterStore {
	return &stubRosterStore{
		rooms:       make(map[string]*domain.Room),
		enrollments: make(map[string][]domain.Enrollment),
	}
}

func (s *stubRosterStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return domain.ErrRoomExists
	}
	s.rooms[room.ID] = room
	return nil
}

func (s *stubRosterStore) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (s *stubRosterStore) Enroll(ctx context.Context, roomID string, memberID int64, memberName string) (*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments[roomID] {
		if e.ID == memberID {
			return nil, domain.ErrAlreadyEnrolled
		}
	}
	enrollment := domain.Enrollment{
		Member:     domain.Member{ID: memberID, Name: memberName},
		EnrolledAt: time.Now().UTC(),
	}
	s.enrollments[roomID] = append(s.enrollments[roomID], enrollment)
	return &enrollment, nil
}

func (s *stubRosterStore) Unenroll(ctx context.Context, roomID string, memberID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.enrollments[roomID]
	for i, e := range list {
		if e.ID == memberID {
			s.enrollments[roomID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotEnrolled
}

func (s *stubRosterStore) ListEnrollments(ctx context.Context, roomID string) ([]domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Enrollment{}, s.enrollments[roomID]...), nil
}

type stubSnapshots struct {
	snap *domain.CompletionSnapshot
	info refresh.Info
}

func (s *stubSnapshots) EnsureView(roomID string)      {}
func (s *stubSnapshots) ForceInvalidate(roomID string) {}
func (s *stubSnapshots) CurrentSnapshot(roomID string) (*domain.CompletionSnapshot, refresh.Info, error) {
	if s.snap == nil {
		return nil, refresh.Info{}, domain.ErrNotYetLoaded
	}
	return s.snap, s.info, nil
}

type testAPI struct {
	server *httptest.Server
	store  *stubRosterStore
	snaps  *stubSnapshots
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snaps := &stubSnapshots{
		snap: &domain.CompletionSnapshot{
			RoomID:    "any",
			FetchedAt: time.Now().UTC(),
			Members:   []domain.Member{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}},
			Completions: map[int64][]domain.CompletionEvent{
				1: {{
					MemberID:    1,
					Puzzle:      domain.Puzzle{Year: 2024, Day: 1, Part: domain.PartFirst},
					CompletedAt: time.Date(2024, 12, 1, 6, 0, 0, 0, time.UTC),
				}},
			},
		},
		info: refresh.Info{RefreshedAt: time.Now().UTC()},
	}

	store := newStubRosterStore()
	reconciler := membership.NewReconciler(pbredis.NewMembershipStore(client), snaps, logger)
	svc := service.NewRoomService(store, snaps, reconciler, logger)
	hub := websocket.NewHub(nil, logger)
	h := NewHandler(svc, hub, logger)

	server := httptest.NewServer(h.Router())
	t.Cleanup(server.Close)
	return &testAPI{server: server, store: store, snaps: snaps}
}

func (a *testAPI) do(t *testing.T, method, path, device string, body interface{}) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.server.URL+path, buf)
	require.NoError(t, err)
	if device != "" {
		req.Header.Set("X-Device-ID", device)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success, "error: %s", envelope.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
}

func createRoom(t *testing.T, api *testAPI, device string) domain.Room {
	t.Helper()
	resp := api.do(t, http.MethodPost, "/api/v1/rooms", device,
		CreateRoomRequest{BoardID: 42, SessionToken: "secret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var room domain.Room
	decodeData(t, resp, &room)
	return room
}

func TestCreateRoomEndpoint(t *testing.T) {
	api := newTestAPI(t)

	room := createRoom(t, api, "dev1")
	assert.Len(t, room.ID, 8)
	assert.Equal(t, int64(42), room.BoardID)

	// The session token never leaves the server
	resp := api.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID+"/", "dev1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}

func TestCreateRoomEndpoint_BadPayload(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/v1/rooms", "dev1",
		CreateRoomRequest{BoardID: 0, SessionToken: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStandingsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	room := createRoom(t, api, "dev1")

	resp := api.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/members", "dev1",
		EnrollMemberRequest{MemberID: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = api.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/members", "dev1",
		EnrollMemberRequest{MemberID: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID+"/standings", "dev1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view service.StandingsView
	decodeData(t, resp, &view)
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "alice", view.Entries[0].Name)
	assert.Equal(t, 1, view.Entries[0].Rank)
	assert.False(t, view.Stale)
}

func TestStandingsEndpoint_BeforeFirstLoad(t *testing.T) {
	api := newTestAPI(t)
	room := createRoom(t, api, "dev1")
	api.snaps.snap = nil

	resp := api.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID+"/standings", "dev1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
}

func TestStandingsEndpoint_RoomNotFound(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/api/v1/rooms/nosuchrm/standings", "dev1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnrollEndpoint_Statuses(t *testing.T) {
	api := newTestAPI(t)
	room := createRoom(t, api, "dev1")

	// Non-admin device
	resp := api.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/members", "dev2",
		EnrollMemberRequest{MemberID: 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Not on the upstream board
	resp = api.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/members", "dev1",
		EnrollMemberRequest{MemberID: 999})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Enroll then duplicate
	resp = api.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/members", "dev1",
		EnrollMemberRequest{MemberID: 1})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = api.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/members", "dev1",
		EnrollMemberRequest{MemberID: 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnenrollEndpoint(t *testing.T) {
	api := newTestAPI(t)
	room := createRoom(t, api, "dev1")

	resp := api.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/members", "dev1",
		EnrollMemberRequest{MemberID: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/api/v1/rooms/"+room.ID+"/members/1", "dev1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/api/v1/rooms/"+room.ID+"/members/1", "dev1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/api/v1/rooms/"+room.ID+"/members/abc", "dev1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVisitAndMyRooms(t *testing.T) {
	api := newTestAPI(t)
	room := createRoom(t, api, "dev1")

	resp := api.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/visit", "dev2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/v1/myrooms", "dev2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rooms []domain.RoomMembershipRecord
	decodeData(t, resp, &rooms)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].RoomID)
	assert.False(t, rooms[0].IsAdmin)

	// A device that never visited anything gets an empty list
	resp = api.do(t, http.MethodGet, "/api/v1/myrooms", "dev3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty []domain.RoomMembershipRecord
	decodeData(t, resp, &empty)
	assert.Empty(t, empty)
}

func TestRosterEndpoint(t *testing.T) {
	api := newTestAPI(t)
	room := createRoom(t, api, "dev1")

	resp := api.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID+"/roster", "dev1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var roster domain.Roster
	decodeData(t, resp, &roster)
	assert.Len(t, roster.Eligible, 2)
	assert.Empty(t, roster.Enrolled)
}

func TestPuzzlesEndpoint(t *testing.T) {
	api := newTestAPI(t)
	room := createRoom(t, api, "dev1")

	resp := api.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID+"/puzzles", "dev1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var puzzles []domain.Puzzle
	decodeData(t, resp, &puzzles)
	assert.NotEmpty(t, puzzles)
	assert.Equal(t, 2015, puzzles[0].Year)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = api.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
