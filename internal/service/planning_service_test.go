package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"family-planner/internal/model"
	"family-planner/internal/schedule"
)

func TestFindSlotsOnlyOffersFutureStarts(t *testing.T) {
	h := newHarness(t)
	task := h.flexible(t, h.anna, model.KindPersonalGoal, 3)

	report, err := h.planning.FindSlots(context.Background(), h.anna.ID, task.ID, monday.AddDate(0, 0, -2), monday.AddDate(0, 0, 6), testNow)
	require.NoError(t, err)
	require.Equal(t, h.anna.ID, report.AssigneeID)
	require.Equal(t, 3, report.Achievable.Count)
	require.Len(t, report.Days, 7)
	require.Equal(t, "2025-01-06", report.Days[0].Date)

	for _, day := range report.Days {
		for _, c := range day.Candidates {
			require.True(t, c.Start.After(testNow), "candidate %s is not after now", c.Start)
			require.Equal(t, time.Hour, c.End.Sub(c.Start))
		}
	}
	// Monday keeps the quarter hour after now.
	require.Equal(t, monday.Add(8*time.Hour+15*time.Minute), report.Days[0].Candidates[0].Start)
}

func TestFindSlotsForbiddenForOutsider(t *testing.T) {
	h := newHarness(t)
	task := h.flexible(t, h.anna, model.KindPersonalGoal, 1)

	_, err := h.planning.FindSlots(context.Background(), h.carl.ID, task.ID, monday, monday.AddDate(0, 0, 6), testNow)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestQuickScheduleFillsRemainingCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.flexible(t, h.anna, model.KindPersonalGoal, 3)

	res, err := h.planning.QuickSchedule(ctx, h.anna.ID, task.ID, monday, monday.AddDate(0, 0, 6), testNow)
	require.NoError(t, err)
	require.Len(t, res.Instances, 3)
	require.Empty(t, res.Rejected)

	days := map[string]bool{}
	for _, inst := range res.Instances {
		require.True(t, inst.StartAt.After(testNow))
		days[inst.Day] = true
	}
	require.Len(t, days, 3)

	again, err := h.planning.QuickSchedule(ctx, h.anna.ID, task.ID, monday, monday.AddDate(0, 0, 6), testNow)
	require.NoError(t, err)
	require.Empty(t, again.Instances)

	events, err := h.events.ListByUser(ctx, h.anna.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestCommitPlacementsRejectsWithReasons(t *testing.T) {
	h := newHarness(t)
	task := h.fixed(t, h.anna, "18:00", model.Monday, model.Wednesday)

	batch := []schedule.Placement{
		placement(task, h.anna.ID, monday.AddDate(0, 0, 1).Add(18*time.Hour)),
		placement(task, h.anna.ID, monday.AddDate(0, 0, 2).Add(12*time.Hour)),
		placement(task, h.anna.ID, monday.Add(18*time.Hour)),
		placement(task, h.anna.ID, monday.Add(18*time.Hour+5*time.Minute)),
	}
	res, err := h.planning.CommitPlacements(context.Background(), h.anna.ID, batch, testNow)
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)
	require.Equal(t, monday.Add(18*time.Hour), res.Instances[0].StartAt.UTC())

	require.Len(t, res.Rejected, 3)
	require.Equal(t, schedule.ReasonWrongWeekday, res.Rejected[0].Reason)
	require.Equal(t, schedule.ReasonWrongTimeOfDay, res.Rejected[1].Reason)
	require.Equal(t, schedule.ReasonNotAchievable, res.Rejected[2].Reason)
}

func TestCommitPlacementsOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	goal := h.flexible(t, h.anna, model.KindPersonalGoal, 2)
	chore := h.flexible(t, h.anna, model.KindHouseholdChore, 2)
	evening := monday.Add(19 * time.Hour)

	res, err := h.planning.CommitPlacements(ctx, h.boris.ID, []schedule.Placement{
		placement(goal, h.boris.ID, evening),
		placement(chore, h.boris.ID, evening),
		placement(chore, h.carl.ID, evening.AddDate(0, 0, 1)),
	}, testNow)
	require.NoError(t, err)
	require.Len(t, res.Instances, 1)
	require.Equal(t, chore.ID, res.Instances[0].TaskID)
	require.Len(t, res.Rejected, 2)
	for _, r := range res.Rejected {
		require.Equal(t, schedule.ReasonNotOwned, r.Reason)
	}

	res, err = h.planning.CommitPlacements(ctx, h.carl.ID, []schedule.Placement{placement(goal, h.anna.ID, evening)}, testNow)
	require.NoError(t, err)
	require.Empty(t, res.Instances)
	require.Equal(t, schedule.ReasonNotOwned, res.Rejected[0].Reason)
}

func TestCommitPlacementsRejectsPast(t *testing.T) {
	h := newHarness(t)
	task := h.flexible(t, h.anna, model.KindPersonalGoal, 2)

	res, err := h.planning.CommitPlacements(context.Background(), h.anna.ID, []schedule.Placement{
		placement(task, h.anna.ID, monday.Add(7*time.Hour)),
	}, testNow)
	require.NoError(t, err)
	require.Empty(t, res.Instances)
	require.Len(t, res.Rejected, 1)
	require.Equal(t, schedule.ReasonNotAchievable, res.Rejected[0].Reason)
}

func TestGenerateWeeklyPlanDraftsSearchPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fixed := h.fixed(t, h.anna, "19:00", model.Tuesday)
	chore := h.flexible(t, h.boris, model.KindHouseholdChore, 2)

	generated, err := h.planning.GenerateWeeklyPlan(ctx, h.familyID, nextWeek, h.anna.ID, testNow)
	require.NoError(t, err)
	require.False(t, generated.Existing)
	require.Equal(t, "search", generated.Source)
	require.Empty(t, generated.Rejected)

	p := generated.Plan
	require.Equal(t, model.PlanDraft, p.Status)
	require.Equal(t, "2025-01-13", p.WeekStart)
	require.Len(t, p.Approvals, 2)
	require.Len(t, p.Items, 3)

	perTask := map[uint]int{}
	for _, item := range p.Items {
		perTask[item.TaskID]++
		require.Equal(t, 1, item.Version)
		if item.TaskID == fixed.ID {
			require.Equal(t, time.Date(2025, time.January, 14, 19, 0, 0, 0, time.UTC), item.StartAt.UTC())
		}
	}
	require.Equal(t, 1, perTask[fixed.ID])
	require.Equal(t, 2, perTask[chore.ID])

	again, err := h.planning.GenerateWeeklyPlan(ctx, h.familyID, nextWeek.AddDate(0, 0, 3), h.boris.ID, testNow)
	require.NoError(t, err)
	require.True(t, again.Existing)
	require.Equal(t, p.ID, again.Plan.ID)

	_, err = h.planning.GenerateWeeklyPlan(ctx, h.familyID, nextWeek, h.carl.ID, testNow)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPickHonorsDayLimitAndOverlap(t *testing.T) {
	task := model.Task{ID: 1, OwnerID: 1, DurationMinutes: 60, Mode: model.ModeFlexible, Frequency: 3, Period: model.PerWeek}
	tue := monday.AddDate(0, 0, 1)
	days := []DaySlots{
		{Date: "2025-01-06", Candidates: []schedule.Candidate{
			{Start: monday.Add(9 * time.Hour), End: monday.Add(10 * time.Hour), Score: 10},
			{Start: monday.Add(11 * time.Hour), End: monday.Add(12 * time.Hour), Score: 9},
		}},
		{Date: "2025-01-07", Candidates: []schedule.Candidate{
			{Start: tue.Add(9 * time.Hour), End: tue.Add(10 * time.Hour), Score: 8},
		}},
	}
	ach := schedule.Achievability{Required: 3, Count: 3}

	picked := pick(task, 1, days, ach, nil)
	require.Len(t, picked, 2)
	require.Equal(t, monday.Add(9*time.Hour), picked[0].Start)
	require.Equal(t, tue.Add(9*time.Hour), picked[1].Start)

	task.AllowMultiplePerDay = true
	days[0].Candidates = append(days[0].Candidates, schedule.Candidate{Start: monday.Add(9*time.Hour + 30*time.Minute), End: monday.Add(10*time.Hour + 30*time.Minute), Score: 9.5})
	picked = pick(task, 1, days, ach, nil)
	require.Len(t, picked, 3)
	require.Equal(t, monday.Add(9*time.Hour), picked[0].Start)
	require.Equal(t, monday.Add(11*time.Hour), picked[1].Start)
	require.Equal(t, tue.Add(9*time.Hour), picked[2].Start)
}

func TestDayLimit(t *testing.T) {
	ach := schedule.Achievability{Count: 4}
	perDay := map[string]int{"2025-01-06": 1}

	fixed := model.Task{Mode: model.ModeFixed}
	require.Equal(t, 1, dayLimit(fixed, ach, perDay)("2025-01-06"))

	daily := model.Task{Mode: model.ModeFlexible, Period: model.PerDay, Frequency: 3}
	require.Equal(t, 2, dayLimit(daily, ach, perDay)("2025-01-06"))
	require.Equal(t, 3, dayLimit(daily, ach, perDay)("2025-01-07"))

	weekly := model.Task{Mode: model.ModeFlexible, Period: model.PerWeek, Frequency: 4}
	require.Equal(t, 1, dayLimit(weekly, ach, perDay)("2025-01-07"))
	weekly.AllowMultiplePerDay = true
	require.Equal(t, 4, dayLimit(weekly, ach, perDay)("2025-01-07"))
}

func TestClipRange(t *testing.T) {
	first, last, err := clipRange(monday.AddDate(0, 0, -3), monday.AddDate(0, 0, 2), testNow, time.UTC)
	require.NoError(t, err)
	require.Equal(t, monday, first)
	require.Equal(t, monday.AddDate(0, 0, 2), last)

	_, _, err = clipRange(monday.AddDate(0, 0, 2), monday, testNow, time.UTC)
	require.ErrorIs(t, err, schedule.ErrInvalidInterval)

	_, _, err = clipRange(monday.AddDate(0, 0, -7), monday.AddDate(0, 0, -1), testNow, time.UTC)
	require.ErrorIs(t, err, schedule.ErrInvalidInterval)
}
