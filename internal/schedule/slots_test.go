package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"family-planner/internal/model"
)

func TestFreeIntervalsAroundWorkDay(t *testing.T) {
	day := at("00:00")
	work := mustInterval(t, "09:00", "17:30", BlockWorkHours)

	free, err := FreeIntervals(day, []Interval{work}, DefaultWindow, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, free, 2)
	require.Equal(t, at("06:00"), free[0].Start)
	require.Equal(t, at("09:00"), free[0].End)
	require.Equal(t, at("17:30"), free[1].Start)
	require.Equal(t, at("22:00"), free[1].End)
}

func TestFreeIntervalsDropsShortFragments(t *testing.T) {
	blocks := []Interval{
		mustInterval(t, "06:20", "21:50", BlockWorkHours),
	}
	free, err := FreeIntervals(at("00:00"), blocks, DefaultWindow, 30*time.Minute)
	require.NoError(t, err)
	require.Empty(t, free)
}

func TestFreeIntervalsRejectsInvertedWindow(t *testing.T) {
	_, err := FreeIntervals(at("00:00"), nil, Window{Earliest: model.MustClock("22:00"), Latest: model.MustClock("06:00")}, time.Minute)
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestFreeIntervalsNeverOverlapBlocks(t *testing.T) {
	blocks := []Interval{
		mustInterval(t, "05:00", "06:30", BlockCommute),
		mustInterval(t, "07:00", "07:45", BlockThirdPartyEvent),
		mustInterval(t, "07:30", "12:00", BlockWorkHours),
		mustInterval(t, "13:00", "13:05", BlockThirdPartyEvent),
		mustInterval(t, "21:00", "23:00", BlockThirdPartyEvent),
	}
	for _, minDur := range []time.Duration{time.Minute, 15 * time.Minute, time.Hour} {
		free, err := FreeIntervals(at("00:00"), blocks, DefaultWindow, minDur)
		require.NoError(t, err)
		for _, f := range free {
			require.GreaterOrEqual(t, f.Duration(), minDur)
			for _, b := range blocks {
				require.False(t, Overlaps(f, b), "free %s overlaps %s", f, b)
			}
		}
	}
}

func TestCandidatesFixedTask(t *testing.T) {
	seven := model.MustClock("07:00")
	task := model.Task{ID: 1, Mode: model.ModeFixed, DurationMinutes: 45, TimeOfDay: &seven, Weekdays: model.NewWeekdaySet(model.Monday)}
	free := []Interval{mustInterval(t, "06:00", "09:00", BlockFree)}

	got := Candidates(task, free, nil, at("05:00"))
	require.Len(t, got, 1)
	require.Equal(t, at("07:00"), got[0].Start)
	require.Equal(t, at("07:45"), got[0].End)

	// Does not fit.
	tight := []Interval{mustInterval(t, "06:00", "07:30", BlockFree)}
	require.Empty(t, Candidates(task, tight, nil, at("05:00")))

	// Already past.
	require.Empty(t, Candidates(task, free, nil, at("07:00")))
}

func TestCandidatesFlexibleSweep(t *testing.T) {
	task := model.Task{ID: 2, Kind: model.KindPersonalGoal, Mode: model.ModeFlexible, DurationMinutes: 30, Frequency: 3, Period: model.PerWeek}
	free := []Interval{
		mustInterval(t, "06:00", "09:00", BlockFree),
		mustInterval(t, "17:30", "22:00", BlockFree),
	}
	occupied := []Interval{
		mustInterval(t, "06:00", "08:00", BlockThirdPartyEvent),
		mustInterval(t, "09:00", "17:30", BlockWorkHours),
	}

	got := Candidates(task, free, occupied, at("05:00"))
	require.NotEmpty(t, got)
	// 08:00 sits in the personal-goal preferred hours and wins.
	require.Equal(t, at("08:00"), got[0].Start)

	starts := make(map[time.Time]bool)
	for _, c := range got {
		require.True(t, c.Start.After(at("05:00")))
		starts[c.Start] = true
	}
	require.True(t, starts[at("06:00")])
	require.True(t, starts[at("17:30")])
}

func TestCandidatesExcludePastAndAddNextQuarter(t *testing.T) {
	task := model.Task{ID: 3, Kind: model.KindHouseholdChore, Mode: model.ModeFlexible, DurationMinutes: 30, Frequency: 1, Period: model.PerDay}
	free := []Interval{mustInterval(t, "06:00", "22:00", BlockFree)}

	got := Candidates(task, free, nil, at("10:07"))
	require.Len(t, got, 1)
	require.Equal(t, at("10:15"), got[0].Start)
}

func TestScorePrefersEarlierDays(t *testing.T) {
	task := model.Task{Kind: model.KindHouseholdChore, Mode: model.ModeFlexible, DurationMinutes: 30}
	now := at("05:00")
	today := Score(task, at("15:00"), now)
	later := Score(task, at("15:00").AddDate(0, 0, 3), now)
	offHours := Score(task, at("09:00"), now)

	require.Greater(t, today, later)
	require.Greater(t, today, offHours)
}
