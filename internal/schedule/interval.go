// Package schedule holds the pure scheduling core: interval algebra, slot
// search, achievable-instance counting and placement validation. Nothing in
// here touches the clock, the database or the network; "now" is always a
// parameter.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidInterval marks a zero-length or inverted interval.
var ErrInvalidInterval = errors.New("invalid interval")

// BlockKind tells why a span of time is unavailable.
type BlockKind string

const (
	BlockWorkHours       BlockKind = "work-hours"
	BlockCommute         BlockKind = "commute"
	BlockVacation        BlockKind = "vacation"
	BlockPublicHoliday   BlockKind = "public-holiday"
	BlockThirdPartyEvent BlockKind = "third-party-event"
	// BlockPlaced covers instances already committed or proposed.
	BlockPlaced BlockKind = "scheduled-task"
	BlockFree   BlockKind = "free"
)

// Interval is a half-open span [Start, End). Label carries a human hint
// (event summary, holiday name) for diagnostics.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Kind  BlockKind `json:"kind"`
	Label string    `json:"label,omitempty"`
}

// NewInterval is the only constructor; it rejects end <= start.
func NewInterval(start, end time.Time, kind BlockKind) (Interval, error) {
	if !end.After(start) {
		return Interval{}, fmt.Errorf("%w: %s..%s", ErrInvalidInterval, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Interval{Start: start, End: end, Kind: kind}, nil
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether o lies fully inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) String() string {
	return fmt.Sprintf("%s %s-%s", i.Kind, i.Start.Format("2006-01-02 15:04"), i.End.Format("15:04"))
}

// Overlaps is strict: touching intervals do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// Subtract removes every blocked interval from free and returns the
// remaining fragments ordered by start. Fragments keep free's kind.
func Subtract(free Interval, blocked []Interval) []Interval {
	fragments := []Interval{free}
	for _, b := range blocked {
		var next []Interval
		for _, f := range fragments {
			next = append(next, subtractOne(f, b)...)
		}
		fragments = next
		if len(fragments) == 0 {
			break
		}
	}
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].Start.Before(fragments[j].Start) })
	return fragments
}

// subtractOne yields zero, one or two pieces of f left after removing b.
func subtractOne(f, b Interval) []Interval {
	if !Overlaps(f, b) {
		return []Interval{f}
	}
	var out []Interval
	if b.Start.After(f.Start) {
		left := f
		left.End = b.Start
		out = append(out, left)
	}
	if b.End.Before(f.End) {
		right := f
		right.Start = b.End
		out = append(out, right)
	}
	return out
}

// Merge coalesces overlapping or adjacent intervals of the same kind.
// Intervals of different kinds are never merged. The result is ordered by
// start, then kind.
func Merge(intervals []Interval) []Interval {
	byKind := make(map[BlockKind][]Interval)
	for _, in := range intervals {
		byKind[in.Kind] = append(byKind[in.Kind], in)
	}

	var out []Interval
	for _, group := range byKind {
		sort.Slice(group, func(i, j int) bool { return group[i].Start.Before(group[j].Start) })
		cur := group[0]
		for _, next := range group[1:] {
			if !next.Start.After(cur.End) {
				if next.End.After(cur.End) {
					cur.End = next.End
				}
				continue
			}
			out = append(out, cur)
			cur = next
		}
		out = append(out, cur)
	}
	SortIntervals(out)
	return out
}

// SortIntervals orders by start, then end, then kind.
func SortIntervals(in []Interval) {
	sort.SliceStable(in, func(i, j int) bool {
		switch {
		case !in[i].Start.Equal(in[j].Start):
			return in[i].Start.Before(in[j].Start)
		case !in[i].End.Equal(in[j].End):
			return in[i].End.Before(in[j].End)
		default:
			return in[i].Kind < in[j].Kind
		}
	})
}
