package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"family-planner/internal/model"
)

func date(day int) time.Time {
	// January 2025: the 6th is a Monday.
	return time.Date(2025, time.January, day, 0, 0, 0, 0, time.UTC)
}

func fixedTask() model.Task {
	seven := model.MustClock("07:00")
	return model.Task{
		ID:              10,
		Mode:            model.ModeFixed,
		DurationMinutes: 45,
		Weekdays:        model.NewWeekdaySet(model.Monday, model.Wednesday, model.Friday),
		TimeOfDay:       &seven,
	}
}

func TestAchievableFixedWeek(t *testing.T) {
	got, err := Achievable(fixedTask(), date(6), date(12), nil, date(5))
	require.NoError(t, err)
	require.Equal(t, 3, got.Count)
	require.Equal(t, 3, got.Required)
	require.Equal(t, []time.Time{date(6), date(8), date(10)}, got.Dates)
	for _, d := range got.Dates {
		wd := model.WeekdayOf(d)
		require.True(t, wd == model.Monday || wd == model.Wednesday || wd == model.Friday)
	}
}

func TestAchievableFixedSkipsPastAndUsed(t *testing.T) {
	// Monday 07:00 already passed, Wednesday already placed.
	now := date(6).Add(8 * time.Hour)
	got, err := Achievable(fixedTask(), date(6), date(12), []time.Time{date(8)}, now)
	require.NoError(t, err)
	require.Equal(t, 1, got.Count)
	require.Equal(t, []time.Time{date(10)}, got.Dates)
	require.Equal(t, 2, got.Required)
}

func TestAchievableFixedNeedsRule(t *testing.T) {
	task := fixedTask()
	task.TimeOfDay = nil
	_, err := Achievable(task, date(6), date(12), nil, date(5))
	require.ErrorIs(t, err, ErrInvalidTask)
}

func TestAchievablePerWeek(t *testing.T) {
	task := model.Task{ID: 11, Mode: model.ModeFlexible, Frequency: 3, Period: model.PerWeek, DurationMinutes: 30}

	got, err := Achievable(task, date(6), date(12), nil, date(5))
	require.NoError(t, err)
	require.Equal(t, 3, got.Count)
	require.Len(t, got.Dates, 7)

	got, err = Achievable(task, date(6), date(12), []time.Time{date(6), date(7)}, date(5))
	require.NoError(t, err)
	require.Equal(t, 1, got.Count)
	require.Len(t, got.Dates, 5)
}

func TestAchievablePerWeekCappedByRemainingDays(t *testing.T) {
	task := model.Task{ID: 12, Mode: model.ModeFlexible, Frequency: 5, Period: model.PerWeek, DurationMinutes: 30}
	// Saturday noon: only Saturday and Sunday remain.
	now := date(11).Add(12 * time.Hour)

	got, err := Achievable(task, date(6), date(12), nil, now)
	require.NoError(t, err)
	require.Equal(t, 2, got.Count)
	require.Equal(t, 5, got.Required)

	task.AllowMultiplePerDay = true
	got, err = Achievable(task, date(6), date(12), nil, now)
	require.NoError(t, err)
	require.Equal(t, 5, got.Count)
}

func TestAchievablePerDay(t *testing.T) {
	task := model.Task{ID: 13, Mode: model.ModeFlexible, Frequency: 2, Period: model.PerDay, DurationMinutes: 10}

	got, err := Achievable(task, date(6), date(8), []time.Time{date(6), date(7), date(7)}, date(5))
	require.NoError(t, err)
	require.Equal(t, 3, got.Count)
	require.Equal(t, []time.Time{date(6), date(8)}, got.Dates)
}

func TestAchievableFlexibleMonotonic(t *testing.T) {
	tasks := []model.Task{
		{ID: 14, Mode: model.ModeFlexible, Frequency: 4, Period: model.PerWeek, DurationMinutes: 30},
		{ID: 15, Mode: model.ModeFlexible, Frequency: 2, Period: model.PerDay, DurationMinutes: 30},
		{ID: 16, Mode: model.ModeFlexible, Frequency: 9, Period: model.PerWeek, DurationMinutes: 30, AllowMultiplePerDay: true},
	}
	now := date(7).Add(10 * time.Hour)
	for _, task := range tasks {
		var scheduled []time.Time
		prev, err := Achievable(task, date(6), date(12), scheduled, now)
		require.NoError(t, err)
		for i := 0; i < 14; i++ {
			scheduled = append(scheduled, date(6+i%7))
			got, err := Achievable(task, date(6), date(12), scheduled, now)
			require.NoError(t, err)
			require.GreaterOrEqual(t, got.Count, 0)
			require.LessOrEqual(t, got.Count, prev.Count, "task %d after %d placements", task.ID, len(scheduled))
			prev = got
		}
	}
}

func TestAchievableIsDeterministic(t *testing.T) {
	task := model.Task{ID: 17, Mode: model.ModeFlexible, Frequency: 3, Period: model.PerWeek, DurationMinutes: 30}
	scheduled := []time.Time{date(9)}
	now := date(7).Add(9 * time.Hour)

	first, err := Achievable(task, date(6), date(12), scheduled, now)
	require.NoError(t, err)
	second, err := Achievable(task, date(6), date(12), scheduled, now)
	require.NoError(t, err)
	require.Equal(t, first, second)

	fixedFirst, err := Achievable(fixedTask(), date(6), date(12), scheduled, now)
	require.NoError(t, err)
	fixedSecond, err := Achievable(fixedTask(), date(6), date(12), scheduled, now)
	require.NoError(t, err)
	require.Equal(t, fixedFirst, fixedSecond)
}

func TestAchievableRejectsInvertedRange(t *testing.T) {
	_, err := Achievable(fixedTask(), date(12), date(6), nil, date(5))
	require.ErrorIs(t, err, ErrInvalidInterval)
}
