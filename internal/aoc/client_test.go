package aoc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/puzzleboard/internal/config"
	"github.com/puzzleboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boardJSON = `{
  "event": "2025",
  "owner_id": 100,
  "members": {
    "100": {
      "id": 100,
      "name": "alice",
      "stars": 3,
      "completion_day_level": {
        "1": {
          "1": {"get_star_ts": 1764565200},
          "2": {"get_star_ts": 1764565800}
        },
        "2": {
          "1": {"get_star_ts": "1764651600"}
        }
      }
    },
    "200": {
      "id": 200,
      "name": "",
      "stars": 0,
      "completion_day_level": {}
    },
    "300": {
      "id": 300,
      "name": "mallory",
      "stars": 1,
      "completion_day_level": {
        "1": {"1": {"get_star_ts": "not-a-number"}},
        "99": {"1": {"get_star_ts": 1764565200}}
      }
    },
    "400": {
      "id": 400,
      "name": "carol",
      "stars": 2,
      "completion_day_level": {
        "3": {
          "1": {"get_star_ts": 1764738000},
          "2": {"get_star_ts": null}
        }
      }
    }
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.AocConfig{BaseURL: srv.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchBoard(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2025/leaderboard/private/view/42.json", r.URL.Path)
		assert.Equal(t, "session=secret", r.Header.Get("Cookie"))
		fmt.Fprint(w, boardJSON)
	})

	board, err := client.FetchBoard(context.Background(), 2025, 42, "secret")
	require.NoError(t, err)

	assert.Equal(t, 2025, board.Year)
	require.Len(t, board.Members, 4)

	names := make(map[int64]string, len(board.Members))
	for _, m := range board.Members {
		names[m.ID] = m.Name
	}
	assert.Equal(t, "alice", names[100])
	assert.Equal(t, "anonymous user #200", names[200])

	events := board.Events[100]
	require.Len(t, events, 3)
	found := make(map[domain.Puzzle]time.Time, len(events))
	for _, ev := range events {
		found[ev.Puzzle] = ev.CompletedAt
	}
	assert.Equal(t, time.Unix(1764565200, 0).UTC(),
		found[domain.Puzzle{Year: 2025, Day: 1, Part: domain.PartFirst}])
	assert.Equal(t, time.Unix(1764651600, 0).UTC(),
		found[domain.Puzzle{Year: 2025, Day: 2, Part: domain.PartFirst}])

	// Every record of member 300 is malformed; all dropped, member kept
	assert.Empty(t, board.Events[300])
	assert.Empty(t, board.Events[200])

	// A garbage timestamp drops only its own event, never its siblings
	require.Len(t, board.Events[400], 1)
	assert.Equal(t, domain.Puzzle{Year: 2025, Day: 3, Part: domain.PartFirst},
		board.Events[400][0].Puzzle)
}

func TestFetchBoard_InvalidSessionRedirect(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth/login", http.StatusFound)
	})

	_, err := client.FetchBoard(context.Background(), 2025, 42, "expired")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestFetchBoard_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchBoard(context.Background(), 2025, 42, "secret")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestFetchBoard_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, boardJSON)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.FetchBoard(ctx, 2025, 42, "secret")
	assert.Error(t, err)
}
