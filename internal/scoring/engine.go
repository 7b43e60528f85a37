// Package scoring turns a completion snapshot into ranked standings.
//
// The engine is a pure function over its inputs: no I/O, no shared state,
// safe to invoke concurrently. Standings are recomputed wholesale on every
// snapshot change, never updated incrementally.
package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/puzzleboard/internal/domain"
)

// ComputeStandings scores every enrolled member against the snapshot and
// returns the standings in display order.
//
// Scoring is pairwise per puzzle: a member who completed a puzzle earns one
// point for every other enrolled member who either never completed it or
// completed it strictly later. Simultaneous completions credit neither side.
// Unsolved puzzles contribute nothing and never subtract.
//
// Ranking is tie-aware competition ranking: equal scores share a rank, and
// the next distinct score resumes at its 1-based position in the sorted
// sequence. Members with equal scores are ordered by ascending member id for
// deterministic display; the shared rank value is unaffected.
//
// Deliberately quadratic in member count per puzzle; at tens of members and
// low hundreds of puzzles this stays well under a millisecond.
func ComputeStandings(
	puzzles []domain.Puzzle,
	enrolled []domain.Member,
	snapshot *domain.CompletionSnapshot,
) []domain.StandingsEntry {
	entries := make([]domain.StandingsEntry, 0, len(enrolled))
	if len(enrolled) == 0 {
		return entries
	}

	inSet := make(map[domain.Puzzle]struct{}, len(puzzles))
	for _, p := range puzzles {
		inSet[p] = struct{}{}
	}

	solved := solveTimes(enrolled, snapshot, inSet)

	scores := make(map[int64]int, len(enrolled))
	for _, p := range puzzles {
		for _, m := range enrolled {
			tm, ok := solved[m.ID][p]
			if !ok {
				continue
			}
			for _, o := range enrolled {
				if o.ID == m.ID {
					continue
				}
				to, ok := solved[o.ID][p]
				if !ok || to.After(tm) {
					scores[m.ID]++
				}
			}
		}
	}

	for _, m := range enrolled {
		entries = append(entries, domain.StandingsEntry{
			MemberID: m.ID,
			Name:     m.Name,
			Score:    scores[m.ID],
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].MemberID < entries[j].MemberID
	})

	assignRanks(entries)
	return entries
}

// solveTimes builds the earliest completion time per (member, puzzle) for
// enrolled members, restricted to the room's puzzle set. Duplicate events
// for the same puzzle collapse to the smallest timestamp.
func solveTimes(
	enrolled []domain.Member,
	snapshot *domain.CompletionSnapshot,
	inSet map[domain.Puzzle]struct{},
) map[int64]map[domain.Puzzle]time.Time {
	solved := make(map[int64]map[domain.Puzzle]time.Time, len(enrolled))
	for _, m := range enrolled {
		events := snapshot.Events(m.ID)
		if len(events) == 0 {
			continue
		}
		times := make(map[domain.Puzzle]time.Time, len(events))
		for _, ev := range events {
			if _, ok := inSet[ev.Puzzle]; !ok {
				continue
			}
			if prev, ok := times[ev.Puzzle]; !ok || ev.CompletedAt.Before(prev) {
				times[ev.Puzzle] = ev.CompletedAt
			}
		}
		solved[m.ID] = times
	}
	return solved
}

// assignRanks applies competition ranking over entries already sorted by
// descending score. A violated invariant here is a programming bug and
// panics rather than producing a silently wrong table.
func assignRanks(entries []domain.StandingsEntry) {
	for i := range entries {
		if entries[i].Score < 0 {
			panic(fmt.Sprintf("scoring: negative score %d for member %d",
				entries[i].Score, entries[i].MemberID))
		}
		if i > 0 && entries[i].Score > entries[i-1].Score {
			panic(fmt.Sprintf("scoring: entries out of order at position %d", i))
		}
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
}
