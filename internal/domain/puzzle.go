package domain

// Part identifies which half of a day's puzzle an event refers to
type Part int

const (
	PartFirst  Part = 1
	PartSecond Part = 2
)

// Valid reports whether the part is one of the two known values
func (p Part) Valid() bool {
	return p == PartFirst || p == PartSecond
}

// Puzzle identifies a single scoreable puzzle by (year, day, part).
// The zero value is not a valid puzzle.
type Puzzle struct {
	Year int  `json:"year"`
	Day  int  `json:"day"`
	Part Part `json:"part"`
}

// Compare orders puzzles chronologically: by year, then day, then part.
// Returns -1, 0 or 1.
func (p Puzzle) Compare(o Puzzle) int {
	switch {
	case p.Year != o.Year:
		if p.Year < o.Year {
			return -1
		}
		return 1
	case p.Day != o.Day:
		if p.Day < o.Day {
			return -1
		}
		return 1
	case p.Part != o.Part:
		if p.Part < o.Part {
			return -1
		}
		return 1
	}
	return 0
}
