package schedule

import (
	"fmt"
	"sort"
	"time"

	"family-planner/internal/model"
)

// Window is the part of a day a person is willing to do tasks in.
type Window struct {
	Earliest model.ClockTime
	Latest   model.ClockTime
}

// DefaultWindow is 06:00-22:00.
var DefaultWindow = Window{Earliest: 6 * 60, Latest: 22 * 60}

// On returns the window as an interval on day's calendar date.
func (w Window) On(day time.Time) (Interval, error) {
	iv, err := NewInterval(w.Earliest.On(day), w.Latest.On(day), BlockFree)
	if err != nil {
		return Interval{}, fmt.Errorf("personal window %s-%s: %w", w.Earliest, w.Latest, err)
	}
	return iv, nil
}

// FreeIntervals subtracts blocks from the personal window on day and keeps
// the fragments lasting at least minDuration.
func FreeIntervals(day time.Time, blocks []Interval, window Window, minDuration time.Duration) ([]Interval, error) {
	span, err := window.On(day)
	if err != nil {
		return nil, err
	}

	relevant := make([]Interval, 0, len(blocks))
	for _, b := range blocks {
		if Overlaps(span, b) {
			relevant = append(relevant, b)
		}
	}

	var out []Interval
	for _, f := range Subtract(span, relevant) {
		if f.Duration() >= minDuration {
			out = append(out, f)
		}
	}
	return out, nil
}

// Candidate is a scored start time for a task.
type Candidate struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Score float64   `json:"score"`
}

func (c Candidate) Interval() Interval {
	return Interval{Start: c.Start, End: c.End, Kind: BlockPlaced}
}

const (
	preferredHourBonus   = 10.0
	recencyPenaltyPerDay = 1.0
	nowGranularity       = 15 * time.Minute
)

// Candidates enumerates start times for task inside the free intervals.
// Fixed tasks get exactly their time of day when it fits. Flexible tasks
// get a sweep over every free start, every end of an occupied interval and
// the next quarter hour after now, scored by preferred hours minus a
// per-day recency penalty. Starts at or before now are never returned.
// Results are ordered best first.
func Candidates(task model.Task, free []Interval, occupied []Interval, now time.Time) []Candidate {
	dur := task.Duration()
	if dur <= 0 {
		return nil
	}

	var out []Candidate
	seen := make(map[int64]bool)
	add := func(start time.Time, f Interval) {
		end := start.Add(dur)
		if !start.After(now) || start.Before(f.Start) || end.After(f.End) {
			return
		}
		key := start.Unix()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Candidate{Start: start, End: end, Score: Score(task, start, now)})
	}

	for _, f := range free {
		if task.Mode == model.ModeFixed {
			if task.TimeOfDay != nil {
				add(task.TimeOfDay.On(f.Start), f)
			}
			continue
		}
		add(f.Start, f)
		for _, o := range occupied {
			if !o.End.Before(f.Start) && o.End.Before(f.End) {
				add(o.End, f)
			}
		}
		if now.After(f.Start) && now.Before(f.End) {
			add(ceilTo(now, nowGranularity), f)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Score favors the task's preferred hours and earlier days.
func Score(task model.Task, start, now time.Time) float64 {
	var score float64
	from, to := preferredHours(task)
	if clock := model.ClockOf(start); clock >= from && clock < to {
		score += preferredHourBonus
	}
	days := model.StartOfDay(start).Sub(model.StartOfDay(now.In(start.Location()))).Hours() / 24
	if days > 0 {
		score -= recencyPenaltyPerDay * days
	}
	return score
}

func preferredHours(task model.Task) (model.ClockTime, model.ClockTime) {
	if task.PreferredStart != nil && task.PreferredEnd != nil && *task.PreferredEnd > *task.PreferredStart {
		return *task.PreferredStart, *task.PreferredEnd
	}
	if task.Kind == model.KindHouseholdChore {
		return 14 * 60, 19 * 60
	}
	return 8 * 60, 12 * 60
}

func ceilTo(t time.Time, step time.Duration) time.Time {
	rounded := t.Truncate(step)
	if rounded.Before(t) {
		rounded = rounded.Add(step)
	}
	return rounded
}
