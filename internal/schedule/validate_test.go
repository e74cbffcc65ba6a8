package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"family-planner/internal/model"
)

func placement(taskID, assignee uint, start time.Time, minutes int) Placement {
	return Placement{TaskID: taskID, AssigneeID: assignee, Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

func TestValidatePersonalGoalOwnership(t *testing.T) {
	goal := model.Task{ID: 1, OwnerID: 100, Kind: model.KindPersonalGoal, Mode: model.ModeFlexible, Frequency: 3, Period: model.PerWeek, DurationMinutes: 30}
	tasks := map[uint]model.Task{1: goal}
	actor := Actor{UserID: 100, MemberIDs: []uint{100, 200}}

	verdict := NewValidator(0).Validate(tasks, actor, []Placement{
		placement(1, 100, date(6).Add(8*time.Hour), 30),
		placement(1, 200, date(7).Add(8*time.Hour), 30),
	})

	require.Len(t, verdict.Accepted, 1)
	require.Equal(t, uint(100), verdict.Accepted[0].AssigneeID)
	require.Len(t, verdict.Rejected, 1)
	require.Equal(t, ReasonNotOwned, verdict.Rejected[0].Reason)
	require.Equal(t, uint(200), verdict.Rejected[0].Placement.AssigneeID)
}

func TestValidateChoreAssignment(t *testing.T) {
	familyID := uint(9)
	chore := model.Task{ID: 2, OwnerID: 100, FamilyID: &familyID, Kind: model.KindHouseholdChore, Mode: model.ModeFlexible, Frequency: 1, Period: model.PerWeek, DurationMinutes: 30}
	tasks := map[uint]model.Task{2: chore}
	actor := Actor{UserID: 200, FamilyID: &familyID, MemberIDs: []uint{100, 200}}

	verdict := NewValidator(0).Validate(tasks, actor, []Placement{
		placement(2, 200, date(6).Add(15*time.Hour), 30),
		placement(2, 300, date(6).Add(16*time.Hour), 30),
	})
	require.Len(t, verdict.Accepted, 1)
	require.Len(t, verdict.Rejected, 1)
	require.Equal(t, ReasonNotOwned, verdict.Rejected[0].Reason)
}

func TestValidateStrangerCannotPlace(t *testing.T) {
	goal := model.Task{ID: 1, OwnerID: 100, Kind: model.KindPersonalGoal, Mode: model.ModeFlexible, DurationMinutes: 30}
	verdict := NewValidator(0).Validate(map[uint]model.Task{1: goal}, Actor{UserID: 999}, []Placement{
		placement(1, 100, date(6).Add(8*time.Hour), 30),
	})
	require.Empty(t, verdict.Accepted)
	require.Equal(t, ReasonNotOwned, verdict.Rejected[0].Reason)
}

func TestValidateFixedConstraints(t *testing.T) {
	task := fixedTask()
	task.OwnerID = 100
	task.Kind = model.KindPersonalGoal
	actor := Actor{UserID: 100}
	v := NewValidator(15 * time.Minute)

	tests := []struct {
		name   string
		start  time.Time
		reason RejectReason
	}{
		{name: "exact", start: date(6).Add(7 * time.Hour)},
		{name: "inside tolerance", start: date(8).Add(7*time.Hour + 15*time.Minute)},
		{name: "early inside tolerance", start: date(10).Add(6*time.Hour + 45*time.Minute)},
		{name: "tuesday", start: date(7).Add(7 * time.Hour), reason: ReasonWrongWeekday},
		{name: "too late", start: date(6).Add(7*time.Hour + 16*time.Minute), reason: ReasonWrongTimeOfDay},
		{name: "too early", start: date(6).Add(6*time.Hour + 30*time.Minute), reason: ReasonWrongTimeOfDay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej := v.Check(&task, actor, placement(task.ID, 100, tt.start, 45))
			if tt.reason == "" {
				require.Nil(t, rej)
				return
			}
			require.NotNil(t, rej)
			require.Equal(t, tt.reason, rej.Reason)
		})
	}
}

func TestValidateFixedOnClockChangeDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	task := fixedTask()
	task.OwnerID = 1
	task.Weekdays = model.NewWeekdaySet(model.Sunday)
	v := NewValidator(DefaultTolerance)

	// Clocks jump from 02:00 to 03:00 on 8 March 2026.
	start := time.Date(2026, time.March, 8, 7, 0, 0, 0, ny)
	require.Nil(t, v.Check(&task, Actor{UserID: 1}, placement(task.ID, 1, start, 45)))

	rej := v.Check(&task, Actor{UserID: 1}, placement(task.ID, 1, start.Add(time.Hour), 45))
	require.NotNil(t, rej)
	require.Equal(t, ReasonWrongTimeOfDay, rej.Reason)
}

func TestValidateFixedNeverAcceptsOutsideRule(t *testing.T) {
	task := fixedTask()
	task.OwnerID = 1
	v := NewValidator(DefaultTolerance)
	for day := 6; day <= 12; day++ {
		for minute := 0; minute < 24*60; minute += 5 {
			start := date(day).Add(time.Duration(minute) * time.Minute)
			rej := v.Check(&task, Actor{UserID: 1}, placement(task.ID, 1, start, 45))
			if rej != nil {
				continue
			}
			require.True(t, task.Weekdays.Has(model.WeekdayOf(start)))
			drift := start.Sub(task.TimeOfDay.On(start))
			require.LessOrEqual(t, drift, 15*time.Minute)
			require.GreaterOrEqual(t, drift, -15*time.Minute)
		}
	}
}

func TestValidateUnknownTaskAndBadInterval(t *testing.T) {
	goal := model.Task{ID: 1, OwnerID: 100, Kind: model.KindPersonalGoal, Mode: model.ModeFlexible, DurationMinutes: 30}
	start := date(6).Add(9 * time.Hour)
	verdict := NewValidator(0).Validate(map[uint]model.Task{1: goal}, Actor{UserID: 100}, []Placement{
		placement(42, 100, start, 30),
		{TaskID: 1, AssigneeID: 100, Start: start, End: start},
	})
	require.Empty(t, verdict.Accepted)
	require.Equal(t, ReasonTaskNotFound, verdict.Rejected[0].Reason)
	require.Equal(t, ReasonInvalidInterval, verdict.Rejected[1].Reason)
}

func TestRejectionErrorUnwraps(t *testing.T) {
	err := error(&RejectionError{Rejection: Rejection{Reason: ReasonWrongWeekday, Detail: "tue"}})
	require.ErrorIs(t, err, ErrValidationRejected)
	require.Contains(t, err.Error(), "wrong-weekday")
}
