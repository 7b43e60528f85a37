// Package aoc is the read-only client for the upstream puzzle-tracking site.
// It is the completion store of the system: a pull source that turns the
// site's private board JSON into domain completion events.
package aoc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/puzzleboard/internal/config"
	"github.com/puzzleboard/internal/domain"
)

// Board is one year of a private board: who is on it and every completion
// event recorded for them.
type Board struct {
	Year    int
	Members []domain.Member
	Events  map[int64][]domain.CompletionEvent
}

// Client fetches private board data from the upstream site
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a new upstream client
func NewClient(cfg *config.AocConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			// The site answers an invalid session with a redirect to the
			// login page; surface that as a failed fetch instead.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
}

// FetchBoard retrieves one year of a private board using the given session
// credential. Individual malformed completion records are dropped with a
// warning; they never fail the whole fetch.
func (c *Client) FetchBoard(ctx context.Context, year int, boardID int64, sessionToken string) (*Board, error) {
	url := fmt.Sprintf("%s/%d/leaderboard/private/view/%d.json", c.baseURL, year, boardID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building board request: %w", err)
	}
	req.Header.Set("Cookie", fmt.Sprintf("session=%s", sessionToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching board %d for %d: %w", boardID, year, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching board %d for %d: status %d: %w",
			boardID, year, resp.StatusCode, domain.ErrDataUnavailable)
	}

	var wire boardResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding board %d for %d: %w", boardID, year, err)
	}

	return c.convert(year, boardID, &wire), nil
}

// boardResponse mirrors the upstream JSON shape:
//
//	{"event":"2025","members":{"1234":{"id":1234,"name":"...",
//	  "completion_day_level":{"1":{"1":{"get_star_ts":1764565200},...},...}},...}}
type boardResponse struct {
	Event   string                    `json:"event"`
	OwnerID int64                     `json:"owner_id"`
	Members map[string]memberResponse `json:"members"`
}

type memberResponse struct {
	ID                 int64                               `json:"id"`
	Name               string                              `json:"name"`
	Stars              int                                 `json:"stars"`
	CompletionDayLevel map[string]map[string]starResponse `json:"completion_day_level"`
}

type starResponse struct {
	// Kept raw: old board exports carry numeric, quoted-string, and
	// occasionally garbage timestamps. Decoding into a typed field would
	// abort the whole board on the first bad record; parsing happens per
	// event in convert so a bad value drops only itself.
	GetStarTS json.RawMessage `json:"get_star_ts"`
}

// parseStarTS parses a raw get_star_ts value, accepting both the numeric and
// the quoted-string form
func parseStarTS(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	return strconv.ParseInt(s, 10, 64)
}

func (c *Client) convert(year int, boardID int64, wire *boardResponse) *Board {
	board := &Board{
		Year:   year,
		Events: make(map[int64][]domain.CompletionEvent, len(wire.Members)),
	}

	for _, m := range wire.Members {
		name := m.Name
		if name == "" {
			name = fmt.Sprintf("anonymous user #%d", m.ID)
		}
		board.Members = append(board.Members, domain.Member{ID: m.ID, Name: name})

		for dayKey, parts := range m.CompletionDayLevel {
			day, err := strconv.Atoi(dayKey)
			if err != nil || day < 1 || day > 25 {
				c.warnDropped(boardID, m.ID, "day", dayKey)
				continue
			}
			for partKey, star := range parts {
				part, err := strconv.Atoi(partKey)
				if err != nil || !domain.Part(part).Valid() {
					c.warnDropped(boardID, m.ID, "part", partKey)
					continue
				}
				ts, err := parseStarTS(star.GetStarTS)
				if err != nil || ts <= 0 {
					c.warnDropped(boardID, m.ID, "timestamp", string(star.GetStarTS))
					continue
				}
				board.Events[m.ID] = append(board.Events[m.ID], domain.CompletionEvent{
					MemberID: m.ID,
					Puzzle: domain.Puzzle{
						Year: year,
						Day:  day,
						Part: domain.Part(part),
					},
					CompletedAt: time.Unix(ts, 0).UTC(),
				})
			}
		}
	}

	return board
}

// warnDropped logs a dropped completion record. Data-quality issues in a
// single record are non-fatal by contract.
func (c *Client) warnDropped(boardID, memberID int64, field, value string) {
	c.logger.Warn("dropping malformed completion record",
		"board_id", boardID,
		"member_id", memberID,
		"field", field,
		"value", value,
	)
}
