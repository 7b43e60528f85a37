// Package puzzles knows the shape of the upstream puzzle calendar: which
// years exist, how many days each year has, and which puzzles have been
// published as of a given instant.
package puzzles

import (
	"errors"
	"time"

	"github.com/puzzleboard/internal/domain"
)

// EarliestYear is the first year the upstream event ran
const EarliestYear = 2015

// ErrYearOutOfRange is returned for years before the first event
var ErrYearOutOfRange = errors.New("year predates the first event")

// Date identifies one calendar day of an event year
type Date struct {
	Year int
	Day  int
}

// CalendarSize returns how many puzzle days the given event year has.
// The event shrank from 25 days to 12 starting with 2025.
func CalendarSize(year int) (int, error) {
	switch {
	case year < EarliestYear:
		return 0, ErrYearOutOfRange
	case year < 2025:
		return 25, nil
	default:
		return 12, nil
	}
}

// LatestByDate returns the most recently published puzzle date as of now.
// Outside December this is the final day of the previous event.
func LatestByDate(now time.Time) Date {
	year := now.Year()
	if now.Month() != time.December {
		year--
	}
	d, _ := LatestOfYear(year, now)
	return d
}

// LatestOfYear returns the last published day of the given event year as of
// now. The second result is false for years before the first event.
func LatestOfYear(year int, now time.Time) (Date, bool) {
	size, err := CalendarSize(year)
	if err != nil {
		return Date{}, false
	}
	if now.Year() == year && now.Month() == time.December && now.Day() < size {
		return Date{Year: year, Day: now.Day()}, true
	}
	return Date{Year: year, Day: size}, true
}

// Years returns every event year from the first through the latest published
// one, in ascending order.
func Years(now time.Time) []int {
	latest := LatestByDate(now).Year
	years := make([]int, 0, latest-EarliestYear+1)
	for y := EarliestYear; y <= latest; y++ {
		years = append(years, y)
	}
	return years
}

// DaysForYears returns the published puzzle days for the given years, in
// chronological order. Years before the first event are skipped.
func DaysForYears(years []int, now time.Time) []Date {
	var dates []Date
	for _, year := range years {
		latest, ok := LatestOfYear(year, now)
		if !ok {
			continue
		}
		for day := 1; day <= latest.Day; day++ {
			dates = append(dates, Date{Year: year, Day: day})
		}
	}
	return dates
}

// ForYears returns the full ordered puzzle sequence for the given years:
// both parts of every published day, part one before part two.
func ForYears(years []int, now time.Time) []domain.Puzzle {
	days := DaysForYears(years, now)
	out := make([]domain.Puzzle, 0, 2*len(days))
	for _, d := range days {
		out = append(out,
			domain.Puzzle{Year: d.Year, Day: d.Day, Part: domain.PartFirst},
			domain.Puzzle{Year: d.Year, Day: d.Day, Part: domain.PartSecond},
		)
	}
	return out
}
