// Package refresh owns the periodic pull of completion data. Each open room
// runs one refresh loop; concurrent demands for the same room's data collapse
// into a single upstream request, and results apply in issuance order so a
// slow older fetch can never clobber a newer one.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/puzzleboard/internal/aoc"
	"github.com/puzzleboard/internal/config"
	"github.com/puzzleboard/internal/domain"
	"github.com/puzzleboard/internal/puzzles"
)

// Fetcher pulls one year of a private board from the upstream site
type Fetcher interface {
	FetchBoard(ctx context.Context, year int, boardID int64, sessionToken string) (*aoc.Board, error)
}

// Cache persists snapshots across restarts
type Cache interface {
	Put(ctx context.Context, snapshot *domain.CompletionSnapshot) error
	Get(ctx context.Context, roomID string) (*domain.CompletionSnapshot, error)
}

// RoomProvider resolves a room to its board id and session credential
type RoomProvider interface {
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
}

// Info describes the freshness of a room's current snapshot
type Info struct {
	Stale       bool
	RefreshedAt time.Time
}

// roomState is the per-room view. Generations order snapshot application:
// each refresh takes an issued number before fetching and applies only if no
// later-issued refresh already landed. refs counts explicit views; an
// ensured lease keeps the loop alive between reads without a matching
// release.
type roomState struct {
	mu            sync.Mutex
	refs          int
	ensuredUntil  time.Time
	snapshot      *domain.CompletionSnapshot
	loaded        bool
	stale         bool
	lastRefreshed time.Time
	nextGen       uint64
	appliedGen    uint64

	forceCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Coordinator schedules completion pulls for every open room
type Coordinator struct {
	mu    sync.Mutex
	rooms map[string]*roomState

	fetcher Fetcher
	cache   Cache
	store   RoomProvider
	cfg     *config.RefreshConfig
	group   singleflight.Group
	logger  *slog.Logger

	// onApply is invoked after every successful snapshot application, off
	// the room lock, so the hub can broadcast fresh standings
	onApply func(roomID string, snapshot *domain.CompletionSnapshot, info Info)
}

// NewCoordinator creates a refresh coordinator
func NewCoordinator(fetcher Fetcher, cache Cache, store RoomProvider, cfg *config.RefreshConfig, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		rooms:   make(map[string]*roomState),
		fetcher: fetcher,
		cache:   cache,
		store:   store,
		cfg:     cfg,
		logger:  logger,
	}
}

// OnApply registers the snapshot-applied callback. Must be called before the
// first OpenView.
func (c *Coordinator) OnApply(fn func(roomID string, snapshot *domain.CompletionSnapshot, info Info)) {
	c.onApply = fn
}

// OpenView starts (or joins) the refresh loop for a room. Views are
// refcounted; the loop stops when the last view closes. Callers that cannot
// guarantee a matching CloseView must use EnsureView instead.
func (c *Coordinator) OpenView(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.rooms[roomID]; ok {
		st.mu.Lock()
		st.refs++
		st.mu.Unlock()
		return
	}

	st := newRoomState()
	st.refs = 1
	c.rooms[roomID] = st
	go c.run(roomID, st)
}

// EnsureView keeps a room's refresh loop alive for one interval past this
// call without holding a view open. Read paths with no disconnect event to
// hook a release onto use this; each read extends the lease, and an idle
// room's loop retires itself at the first tick after the lease lapses.
func (c *Coordinator) EnsureView(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	until := time.Now().Add(c.cfg.Interval)
	if st, ok := c.rooms[roomID]; ok {
		st.mu.Lock()
		if until.After(st.ensuredUntil) {
			st.ensuredUntil = until
		}
		st.mu.Unlock()
		return
	}

	st := newRoomState()
	st.ensuredUntil = until
	c.rooms[roomID] = st
	go c.run(roomID, st)
}

// CloseView releases one view on a room. When the last view closes and no
// read lease is active the loop stops at once; an active lease keeps it
// running until the lease lapses.
func (c *Coordinator) CloseView(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.rooms[roomID]
	if !ok {
		return
	}
	st.mu.Lock()
	st.refs--
	stop := st.refs <= 0 && !time.Now().Before(st.ensuredUntil)
	st.mu.Unlock()

	if stop {
		close(st.stopCh)
		delete(c.rooms, roomID)
	}
}

func newRoomState() *roomState {
	return &roomState{
		forceCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// expireIfIdle retires the room's loop when no view is open and the read
// lease has lapsed
func (c *Coordinator) expireIfIdle(roomID string, st *roomState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st.mu.Lock()
	idle := st.refs <= 0 && !time.Now().Before(st.ensuredUntil)
	st.mu.Unlock()
	if !idle {
		return false
	}

	delete(c.rooms, roomID)
	c.logger.Info("refresh view idle, stopping", "room_id", roomID)
	return true
}

// ForceInvalidate schedules an immediate refresh for a room, ahead of its
// periodic tick. A no-op for rooms with no open view.
func (c *Coordinator) ForceInvalidate(roomID string) {
	c.mu.Lock()
	st, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case st.forceCh <- struct{}{}:
	default:
	}
}

// CurrentSnapshot returns a room's latest applied snapshot. Before the first
// successful load it returns ErrNotYetLoaded; after a failed refresh it keeps
// returning the previous snapshot with Stale set.
func (c *Coordinator) CurrentSnapshot(roomID string) (*domain.CompletionSnapshot, Info, error) {
	c.mu.Lock()
	st, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return nil, Info{}, domain.ErrNotYetLoaded
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.loaded {
		return nil, Info{}, domain.ErrNotYetLoaded
	}
	return st.snapshot, Info{Stale: st.stale, RefreshedAt: st.lastRefreshed}, nil
}

// run is the per-room refresh loop
func (c *Coordinator) run(roomID string, st *roomState) {
	defer close(st.doneCh)

	// A cached snapshot younger than one interval serves immediately and
	// defers the first pull, so a restart does not hammer the upstream.
	if !c.seedFromCache(roomID, st) {
		c.refresh(roomID, st)
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.expireIfIdle(roomID, st) {
				return
			}
			c.refresh(roomID, st)
		case <-st.forceCh:
			c.refresh(roomID, st)
			ticker.Reset(c.cfg.Interval)
		case <-st.stopCh:
			c.logger.Info("refresh loop stopped", "room_id", roomID)
			return
		}
	}
}

// seedFromCache loads a persisted snapshot and reports whether it is fresh
// enough to skip the immediate first pull
func (c *Coordinator) seedFromCache(roomID string, st *roomState) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()

	snap, err := c.cache.Get(ctx, roomID)
	if err != nil {
		c.logger.Warn("snapshot cache read failed", "room_id", roomID, "error", err)
		return false
	}
	if snap == nil {
		return false
	}

	st.mu.Lock()
	st.snapshot = snap
	st.loaded = true
	st.lastRefreshed = snap.FetchedAt
	st.mu.Unlock()

	c.logger.Info("seeded snapshot from cache", "room_id", roomID, "fetched_at", snap.FetchedAt)
	return time.Since(snap.FetchedAt) < c.cfg.Interval
}

// refresh performs one pull and applies the result in generation order
func (c *Coordinator) refresh(roomID string, st *roomState) {
	st.mu.Lock()
	st.nextGen++
	gen := st.nextGen
	st.mu.Unlock()

	// Concurrent refreshes of the same room share one upstream request
	v, err, _ := c.group.Do(roomID+"|completions", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
		defer cancel()
		return c.fetchSnapshot(ctx, roomID)
	})
	if err != nil {
		c.markStale(roomID, st, err)
		return
	}
	c.apply(roomID, st, gen, v.(*domain.CompletionSnapshot))
}

// fetchSnapshot pulls every calendar year of the room's board and merges the
// results into one snapshot. Individual year failures are tolerated as long
// as at least one year loads.
func (c *Coordinator) fetchSnapshot(ctx context.Context, roomID string) (*domain.CompletionSnapshot, error) {
	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("resolving room %s: %w", roomID, err)
	}

	snap := &domain.CompletionSnapshot{
		RoomID:      roomID,
		FetchedAt:   time.Now().UTC(),
		Completions: make(map[int64][]domain.CompletionEvent),
	}
	seen := make(map[int64]bool)

	var loadedAny bool
	var lastErr error
	for _, year := range puzzles.Years(time.Now()) {
		board, err := c.fetcher.FetchBoard(ctx, year, room.BoardID, room.SessionToken)
		if err != nil {
			c.logger.Warn("board year fetch failed",
				"room_id", roomID, "year", year, "error", err)
			lastErr = err
			continue
		}
		loadedAny = true
		for _, m := range board.Members {
			if !seen[m.ID] {
				seen[m.ID] = true
				snap.Members = append(snap.Members, m)
			}
		}
		for memberID, events := range board.Events {
			snap.Completions[memberID] = append(snap.Completions[memberID], events...)
		}
	}

	if !loadedAny {
		if lastErr != nil && errors.Is(lastErr, domain.ErrDataUnavailable) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("fetching board for room %s: %w", roomID, domain.ErrDataUnavailable)
	}
	return snap, nil
}

// apply installs a snapshot unless a later-issued refresh already landed
func (c *Coordinator) apply(roomID string, st *roomState, gen uint64, snap *domain.CompletionSnapshot) {
	st.mu.Lock()
	if gen <= st.appliedGen {
		st.mu.Unlock()
		c.logger.Debug("discarding superseded snapshot", "room_id", roomID, "generation", gen)
		return
	}
	st.appliedGen = gen
	st.snapshot = snap
	st.loaded = true
	st.stale = false
	st.lastRefreshed = snap.FetchedAt
	info := Info{Stale: false, RefreshedAt: snap.FetchedAt}
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()
	if err := c.cache.Put(ctx, snap); err != nil {
		c.logger.Warn("snapshot cache write failed", "room_id", roomID, "error", err)
	}

	c.logger.Info("snapshot applied",
		"room_id", roomID,
		"members", len(snap.Members),
		"fetched_at", snap.FetchedAt,
	)

	if c.onApply != nil {
		c.onApply(roomID, snap, info)
	}
}

// markStale flags the room's data as stale while retaining the last good
// snapshot; callers keep reading the old data until a pull succeeds
func (c *Coordinator) markStale(roomID string, st *roomState, cause error) {
	st.mu.Lock()
	if st.loaded {
		st.stale = true
	}
	st.mu.Unlock()
	c.logger.Warn("refresh failed, retaining previous snapshot",
		"room_id", roomID, "error", cause)
}
