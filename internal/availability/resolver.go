// Package availability resolves when a person cannot take on tasks.
package availability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"family-planner/internal/calendar"
	"family-planner/internal/holiday"
	"family-planner/internal/model"
	"family-planner/internal/schedule"
)

type UserStore interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
}

// FactStore holds the locally stored blocking facts.
type FactStore interface {
	WorkWeek(ctx context.Context, userID uint) (map[model.Weekday]model.WorkDay, error)
	Vacations(ctx context.Context, userID uint, from, to string) ([]model.Vacation, error)
}

// Result is the blocked time of one user over a date range.
type Result struct {
	UserID   uint
	Location *time.Location
	Window   schedule.Window
	// Blocks are ordered by start but never merged across kinds.
	Blocks []schedule.Interval
	// Warnings name sources that could not be read; Blocks then lack their
	// data.
	Warnings []string
}

// BlocksOn returns the blocks overlapping day.
func (r Result) BlocksOn(day time.Time) []schedule.Interval {
	start := model.StartOfDay(day.In(r.Location))
	span := schedule.Interval{Start: start, End: start.AddDate(0, 0, 1)}
	var out []schedule.Interval
	for _, b := range r.Blocks {
		if schedule.Overlaps(span, b) {
			out = append(out, b)
		}
	}
	return out
}

type Resolver struct {
	users    UserStore
	facts    FactStore
	holidays holiday.Source
	events   calendar.Source
	loc      *time.Location
	window   schedule.Window
}

// NewResolver wires the sources. holidays and events may be nil.
func NewResolver(users UserStore, facts FactStore, holidays holiday.Source, events calendar.Source, loc *time.Location, window schedule.Window) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{users: users, facts: facts, holidays: holidays, events: events, loc: loc, window: window}
}

// Window is the user's personal window, or the configured default.
func (r *Resolver) Window(user model.User) schedule.Window {
	if user.WindowStart != nil && user.WindowEnd != nil && *user.WindowEnd > *user.WindowStart {
		return schedule.Window{Earliest: *user.WindowStart, Latest: *user.WindowEnd}
	}
	return r.window
}

// Resolve collects every blocked interval of userID on the dates from..to
// (inclusive, in the user's location). Holiday and calendar failures only
// add warnings.
func (r *Resolver) Resolve(ctx context.Context, userID uint, from, to time.Time) (Result, error) {
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	loc := user.Location(r.loc)
	res := Result{UserID: userID, Location: loc, Window: r.Window(*user)}

	first := model.StartOfDay(from.In(loc))
	last := model.StartOfDay(to.In(loc))
	if last.Before(first) {
		return res, fmt.Errorf("%w: range %s..%s", schedule.ErrInvalidInterval, model.DateKey(first), model.DateKey(last))
	}
	days := model.Days(first, last)
	rangeEnd := last.AddDate(0, 0, 1)

	week, err := r.facts.WorkWeek(ctx, userID)
	if err != nil {
		return res, err
	}
	vacations, err := r.facts.Vacations(ctx, userID, model.DateKey(first), model.DateKey(last))
	if err != nil {
		return res, err
	}

	holidays := map[string]string{}
	if r.holidays != nil && user.Country != "" {
		list, err := r.holidays.Holidays(ctx, user.Country, first, last)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("holidays unavailable: %v", err))
		}
		for _, h := range list {
			holidays[h.Date] = h.Name
		}
	}

	for _, day := range days {
		key := model.DateKey(day)
		if wd, ok := week[model.WeekdayOf(day)]; ok {
			res.Blocks = append(res.Blocks, workBlocks(day, wd)...)
		}
		for _, v := range vacations {
			if v.StartDate <= key && key <= v.EndDate {
				res.Blocks = append(res.Blocks, wholeDay(day, schedule.BlockVacation, v.Note))
				break
			}
		}
		if name, ok := holidays[key]; ok {
			res.Blocks = append(res.Blocks, wholeDay(day, schedule.BlockPublicHoliday, name))
		}
	}

	if r.events != nil {
		events, err := r.events.GetEvents(ctx, userID, first, rangeEnd)
		if err != nil {
			zap.L().Warn("[Availability] calendar degraded", zap.Uint("user_id", userID), zap.Error(err))
			res.Warnings = append(res.Warnings, fmt.Sprintf("calendar events incomplete: %v", err))
		}
		for _, ev := range events {
			if b, ok := eventBlock(ev, loc); ok {
				res.Blocks = append(res.Blocks, b)
			}
		}
	}

	schedule.SortIntervals(res.Blocks)
	return res, nil
}

func workBlocks(day time.Time, wd model.WorkDay) []schedule.Interval {
	if !wd.IsWorking {
		return nil
	}
	start, end := wd.StartTime.On(day), wd.EndTime.On(day)
	work, err := schedule.NewInterval(start, end, schedule.BlockWorkHours)
	if err != nil {
		return nil
	}
	out := []schedule.Interval{work}
	if wd.Location == model.LocationHome || wd.Location == "" {
		return out
	}
	if m := minutes(wd.CommuteToMinutes); m > 0 {
		b, _ := schedule.NewInterval(start.Add(-m), start, schedule.BlockCommute)
		b.Label = "to " + string(wd.Location)
		out = append(out, b)
	}
	if m := minutes(wd.CommuteFromMinutes); m > 0 {
		b, _ := schedule.NewInterval(end, end.Add(m), schedule.BlockCommute)
		b.Label = "from " + string(wd.Location)
		out = append(out, b)
	}
	return out
}

func minutes(m *int) time.Duration {
	if m == nil {
		return 0
	}
	return time.Duration(*m) * time.Minute
}

func wholeDay(day time.Time, kind schedule.BlockKind, label string) schedule.Interval {
	return schedule.Interval{Start: day, End: day.AddDate(0, 0, 1), Kind: kind, Label: label}
}

// eventBlock converts an event into a block; all-day events cover their
// dates entirely in loc.
func eventBlock(ev calendar.Event, loc *time.Location) (schedule.Interval, bool) {
	start, end := ev.Start.In(loc), ev.End.In(loc)
	if ev.AllDay {
		start = time.Date(ev.Start.Year(), ev.Start.Month(), ev.Start.Day(), 0, 0, 0, 0, loc)
		endDay := time.Date(ev.End.Year(), ev.End.Month(), ev.End.Day(), 0, 0, 0, 0, loc)
		if !endDay.After(start) {
			endDay = start.AddDate(0, 0, 1)
		}
		end = endDay
	}
	b, err := schedule.NewInterval(start, end, schedule.BlockThirdPartyEvent)
	if err != nil {
		return schedule.Interval{}, false
	}
	b.Label = ev.Summary
	return b, true
}
