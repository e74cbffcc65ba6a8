package service

import (
	"context"
	"fmt"
	"time"

	"family-planner/internal/model"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
)

// capacity is the single way every call site reaches the achievable
// calculator. It loads the task's existing placements itself, so no entry
// point can schedule more than is still achievable.
type capacity struct {
	instances *repository.InstanceRepository
}

// achievable evaluates task over the dates from..to (inclusive, in from's
// location) and also returns the existing placements per date.
func (c capacity) achievable(ctx context.Context, task model.Task, from, to, now time.Time) (schedule.Achievability, map[string]int, error) {
	loc := from.Location()
	first := model.StartOfDay(from)
	end := model.StartOfDay(to.In(loc)).AddDate(0, 0, 1)
	scheduled, err := c.instances.ScheduledDates(ctx, task.ID, first, end)
	if err != nil {
		return schedule.Achievability{}, nil, err
	}
	ach, err := schedule.Achievable(task, first, to, scheduled, now)
	if err != nil {
		return schedule.Achievability{}, nil, fmt.Errorf("achievable for task %d: %w", task.ID, err)
	}
	perDay := make(map[string]int, len(scheduled))
	for _, d := range scheduled {
		perDay[model.DateKey(d.In(loc))]++
	}
	return ach, perDay, nil
}

// dayLimit is how many placements of task one date may still take.
func dayLimit(task model.Task, ach schedule.Achievability, perDay map[string]int) func(day string) int {
	return func(day string) int {
		switch {
		case task.Mode == model.ModeFixed:
			return 1
		case task.Period == model.PerDay:
			return task.Frequency - perDay[day]
		case task.AllowMultiplePerDay:
			return ach.Count
		default:
			return 1
		}
	}
}

type capKey struct {
	taskID uint
	week   string
}

// capBatch keeps validated placements only while their task's week still
// has room for them. Placements are taken in input order; the rest are
// rejected as not achievable.
func (c capacity) capBatch(ctx context.Context, tasks map[uint]model.Task, batch []schedule.Placement, now time.Time) ([]schedule.Placement, []schedule.Rejection, error) {
	var order []capKey
	groups := make(map[capKey][]int)
	for i, p := range batch {
		key := capKey{taskID: p.TaskID, week: model.DateKey(model.WeekStart(p.Start))}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	keep := make([]bool, len(batch))
	var rejected []schedule.Rejection
	reject := func(p schedule.Placement, format string, args ...any) {
		rejected = append(rejected, schedule.Rejection{Placement: p, Reason: schedule.ReasonNotAchievable, Detail: fmt.Sprintf(format, args...)})
	}

	for _, key := range order {
		idx := groups[key]
		task := tasks[key.taskID]
		weekStart := model.WeekStart(batch[idx[0]].Start)
		ach, perDay, err := c.achievable(ctx, task, weekStart, weekStart.AddDate(0, 0, 6), now)
		if err != nil {
			return nil, nil, err
		}
		open := make(map[string]bool, len(ach.Dates))
		for _, d := range ach.Dates {
			open[model.DateKey(d)] = true
		}
		limit := dayLimit(task, ach, perDay)

		taken := make(map[string]int)
		kept := 0
		for _, i := range idx {
			p := batch[i]
			day := p.Day()
			switch {
			case !p.Start.After(now):
				reject(p, "start %s is not in the future", p.Start.Format(time.RFC3339))
			case !open[day]:
				reject(p, "task %d needs no more placements on %s", task.ID, day)
			case kept >= ach.Count:
				reject(p, "task %d can take only %d more placements in week %s", task.ID, ach.Count, key.week)
			case taken[day] >= limit(day):
				reject(p, "task %d is already placed on %s", task.ID, day)
			default:
				keep[i] = true
				taken[day]++
				kept++
			}
		}
	}

	var out []schedule.Placement
	for i, p := range batch {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out, rejected, nil
}

func taskIDs(batch []schedule.Placement) []uint {
	seen := make(map[uint]bool)
	var ids []uint
	for _, p := range batch {
		if !seen[p.TaskID] {
			seen[p.TaskID] = true
			ids = append(ids, p.TaskID)
		}
	}
	return ids
}
