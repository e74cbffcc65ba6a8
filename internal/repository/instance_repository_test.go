package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"family-planner/internal/model"
	"family-planner/internal/testutil"
)

func TestScheduledDatesSkipsSkipped(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewInstanceRepository(db)
	ctx := context.Background()

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	for i, status := range []model.InstanceStatus{model.InstancePending, model.InstanceSkipped, model.InstanceCompleted} {
		start := time.Date(2025, time.January, 6+i, 9, 0, 0, 0, berlin)
		inst := &model.ScheduledTaskInstance{TaskID: 1, AssigneeID: 10, Day: model.DateKey(start), StartAt: start, EndAt: start.Add(time.Hour), Status: status}
		require.NoError(t, repo.Create(ctx, inst))
	}

	from := time.Date(2025, time.January, 6, 0, 0, 0, 0, berlin)
	dates, err := repo.ScheduledDates(ctx, 1, from, from.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, dates, 2)
	require.True(t, dates[0].Equal(time.Date(2025, time.January, 6, 9, 0, 0, 0, berlin)))
	require.True(t, dates[1].Equal(time.Date(2025, time.January, 8, 9, 0, 0, 0, berlin)))
}

func TestInstanceStatusTransitions(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewInstanceRepository(db)
	ctx := context.Background()

	start := time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)
	inst := &model.ScheduledTaskInstance{TaskID: 1, AssigneeID: 10, Day: model.DateKey(start), StartAt: start, EndAt: start.Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, inst))
	require.Equal(t, model.InstancePending, inst.Status)

	require.NoError(t, repo.SetStatus(ctx, inst, model.InstanceCompleted, start.Add(2*time.Hour)))
	require.NotNil(t, inst.CompletedAt)

	stale := *inst
	stale.Status = model.InstancePending
	require.ErrorIs(t, repo.SetStatus(ctx, &stale, model.InstanceSkipped, start), ErrStaleStatus)
}

func TestAvailabilityFacts(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewAvailabilityRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveWorkDay(ctx, &model.WorkDay{UserID: 1, Weekday: model.Monday, IsWorking: true, StartTime: model.MustClock("09:00"), EndTime: model.MustClock("17:00")}))
	require.NoError(t, repo.SaveWorkDay(ctx, &model.WorkDay{UserID: 1, Weekday: model.Monday, IsWorking: true, StartTime: model.MustClock("10:00"), EndTime: model.MustClock("18:00"), Location: model.LocationOffice}))

	week, err := repo.WorkWeek(ctx, 1)
	require.NoError(t, err)
	require.Len(t, week, 1)
	require.Equal(t, model.MustClock("10:00"), week[model.Monday].StartTime)
	require.Equal(t, model.LocationOffice, week[model.Monday].Location)

	require.NoError(t, repo.AddVacation(ctx, &model.Vacation{UserID: 1, StartDate: "2025-01-03", EndDate: "2025-01-07"}))
	require.NoError(t, repo.AddVacation(ctx, &model.Vacation{UserID: 1, StartDate: "2025-02-01", EndDate: "2025-02-02"}))
	vacations, err := repo.Vacations(ctx, 1, "2025-01-06", "2025-01-12")
	require.NoError(t, err)
	require.Len(t, vacations, 1)
	require.Equal(t, "2025-01-03", vacations[0].StartDate)
}
