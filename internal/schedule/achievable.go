package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"family-planner/internal/model"
)

// ErrInvalidTask marks a task whose recurrence fields are inconsistent.
var ErrInvalidTask = errors.New("invalid task recurrence")

// Achievability answers "how many more times can this task still go into
// the range, and on which dates".
type Achievability struct {
	// Required is what the recurrence still asks for in the range after
	// subtracting existing placements.
	Required int `json:"required"`
	// Count is the part of Required that can still be placed.
	Count int `json:"count"`
	// Dates are the calendar dates on which a placement is still possible.
	Dates []time.Time `json:"dates"`
}

// Achievable counts the additional instances of task that are both
// required and still placeable in the date range [from, to] (inclusive,
// interpreted in from's location). scheduled lists the dates of existing
// non-skipped placements in the range, one entry per placement. The
// result depends only on its arguments.
func Achievable(task model.Task, from, to time.Time, scheduled []time.Time, now time.Time) (Achievability, error) {
	loc := from.Location()
	from = model.StartOfDay(from)
	to = model.StartOfDay(to.In(loc))
	if to.Before(from) {
		return Achievability{}, fmt.Errorf("%w: range %s..%s", ErrInvalidInterval, model.DateKey(from), model.DateKey(to))
	}

	perDay := make(map[string]int, len(scheduled))
	for _, d := range scheduled {
		perDay[model.DateKey(d.In(loc))]++
	}

	switch task.Mode {
	case model.ModeFixed:
		return achievableFixed(task, from, to, perDay, now)
	case model.ModeFlexible:
		if task.Frequency < 1 {
			return Achievability{}, fmt.Errorf("%w: task %d frequency %d", ErrInvalidTask, task.ID, task.Frequency)
		}
		switch task.Period {
		case model.PerWeek:
			return achievablePerWeek(task, from, to, perDay, len(scheduled), now), nil
		case model.PerDay:
			return achievablePerDay(task, from, to, perDay, now), nil
		default:
			return Achievability{}, fmt.Errorf("%w: task %d period %q", ErrInvalidTask, task.ID, task.Period)
		}
	default:
		return Achievability{}, fmt.Errorf("%w: task %d mode %q", ErrInvalidTask, task.ID, task.Mode)
	}
}

func achievableFixed(task model.Task, from, to time.Time, perDay map[string]int, now time.Time) (Achievability, error) {
	occurrences, err := FixedOccurrences(task, from, to)
	if err != nil {
		return Achievability{}, err
	}

	var res Achievability
	for _, occ := range occurrences {
		if perDay[model.DateKey(occ)] > 0 {
			continue
		}
		res.Required++
		if occ.After(now) {
			res.Dates = append(res.Dates, model.StartOfDay(occ))
		}
	}
	res.Count = len(res.Dates)
	return res, nil
}

// FixedOccurrences expands a fixed task's weekly rule into concrete start
// times between from and to, both dates inclusive.
func FixedOccurrences(task model.Task, from, to time.Time) ([]time.Time, error) {
	if task.TimeOfDay == nil || task.Weekdays.Len() == 0 {
		return nil, fmt.Errorf("%w: fixed task %d needs weekdays and a time of day", ErrInvalidTask, task.ID)
	}

	days := task.Weekdays.Days()
	byWeekday := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		byWeekday = append(byWeekday, rruleWeekday(d))
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   task.TimeOfDay.On(from),
		Until:     task.TimeOfDay.On(to),
		Byweekday: byWeekday,
	})
	if err != nil {
		return nil, fmt.Errorf("build weekly rule for task %d: %w", task.ID, err)
	}
	return rule.All(), nil
}

func rruleWeekday(d model.Weekday) rrule.Weekday {
	switch d {
	case model.Monday:
		return rrule.MO
	case model.Tuesday:
		return rrule.TU
	case model.Wednesday:
		return rrule.WE
	case model.Thursday:
		return rrule.TH
	case model.Friday:
		return rrule.FR
	case model.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

func achievablePerWeek(task model.Task, from, to time.Time, perDay map[string]int, placed int, now time.Time) Achievability {
	totalDays := len(model.Days(from, to))
	weeks := (totalDays + 6) / 7

	var res Achievability
	res.Required = task.Frequency*weeks - placed
	if res.Required < 0 {
		res.Required = 0
	}

	for _, d := range remainingDays(from, to, now) {
		if task.AllowMultiplePerDay || perDay[model.DateKey(d)] == 0 {
			res.Dates = append(res.Dates, d)
		}
	}

	res.Count = res.Required
	if !task.AllowMultiplePerDay && res.Count > len(res.Dates) {
		res.Count = len(res.Dates)
	}
	if len(res.Dates) == 0 {
		res.Count = 0
	}
	return res
}

func achievablePerDay(task model.Task, from, to time.Time, perDay map[string]int, now time.Time) Achievability {
	var res Achievability
	for _, d := range model.Days(from, to) {
		if need := task.Frequency - perDay[model.DateKey(d)]; need > 0 {
			res.Required += need
		}
	}
	for _, d := range remainingDays(from, to, now) {
		if need := task.Frequency - perDay[model.DateKey(d)]; need > 0 {
			res.Count += need
			res.Dates = append(res.Dates, d)
		}
	}
	return res
}

// remainingDays lists the dates in range that have not fully passed.
func remainingDays(from, to, now time.Time) []time.Time {
	var out []time.Time
	for _, d := range model.Days(from, to) {
		if d.AddDate(0, 0, 1).After(now) {
			out = append(out, d)
		}
	}
	return out
}
