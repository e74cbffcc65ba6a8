package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"family-planner/internal/availability"
	"family-planner/internal/calendar"
	"family-planner/internal/model"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
	"family-planner/internal/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	monday   = time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)
	testNow  = monday.Add(8*time.Hour + 7*time.Minute)
	nextWeek = monday.AddDate(0, 0, 7)
)

type harness struct {
	users     *repository.UserRepository
	tasks     *repository.TaskRepository
	instances *repository.InstanceRepository
	plans     *repository.PlanRepository
	events    *repository.EventRepository

	families *FamilyService
	taskSvc  *TaskService
	planSvc  *PlanService
	planning *PlanningService

	anna, boris, carl model.User
	familyID          uint
}

// newHarness wires every service over a fresh database. Anna and Boris
// share a family; Carl has none.
func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewTestDB(t, repository.Models()...)
	ctx := context.Background()

	h := &harness{
		users:     repository.NewUserRepository(db),
		tasks:     repository.NewTaskRepository(db),
		instances: repository.NewInstanceRepository(db),
		plans:     repository.NewPlanRepository(db),
		events:    repository.NewEventRepository(db),
	}
	familyRepo := repository.NewFamilyRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	tx := repository.NewTransactor(db)

	mirror := calendar.NewMirror(calendar.NewLocalCalendar(h.events), 1)
	resolver := availability.NewResolver(h.users, availabilityRepo, nil, nil, time.UTC, schedule.DefaultWindow)
	validator := schedule.NewValidator(0)

	h.families = NewFamilyService(h.users, familyRepo, time.UTC)
	h.taskSvc = NewTaskService(h.tasks, h.instances, h.families, mirror)
	h.planSvc = NewPlanService(h.plans, h.tasks, h.instances, tx, h.families, validator, mirror, true)
	h.planning = NewPlanningService(PlanningDeps{
		Tasks:     h.tasks,
		Instances: h.instances,
		Plans:     h.plans,
		Tx:        tx,
		Families:  h.families,
		PlanSvc:   h.planSvc,
		Resolver:  resolver,
		Validator: validator,
		Mirror:    mirror,
	})

	for _, u := range []*model.User{&h.anna, &h.boris, &h.carl} {
		u.Timezone = "UTC"
	}
	h.anna.Name, h.boris.Name, h.carl.Name = "Anna", "Boris", "Carl"
	require.NoError(t, h.users.Create(ctx, &h.anna))
	require.NoError(t, h.users.Create(ctx, &h.boris))
	require.NoError(t, h.users.Create(ctx, &h.carl))

	family, err := h.families.CreateFamily(ctx, &h.anna, "Home")
	require.NoError(t, err)
	require.NoError(t, h.families.Join(ctx, family.ID, h.boris.ID))
	h.familyID = family.ID
	return h
}

func clock(raw string) *model.ClockTime {
	c := model.MustClock(raw)
	return &c
}

func (h *harness) flexible(t *testing.T, owner model.User, kind model.TaskKind, perWeek int) *model.Task {
	t.Helper()
	task, err := h.taskSvc.CreateTask(context.Background(), &owner, TaskInput{
		Title:           "flexible",
		Kind:            kind,
		DurationMinutes: 60,
		Mode:            model.ModeFlexible,
		Frequency:       perWeek,
		Period:          model.PerWeek,
	})
	require.NoError(t, err)
	return task
}

func (h *harness) fixed(t *testing.T, owner model.User, at string, days ...model.Weekday) *model.Task {
	t.Helper()
	task, err := h.taskSvc.CreateTask(context.Background(), &owner, TaskInput{
		Title:           "fixed",
		DurationMinutes: 60,
		Mode:            model.ModeFixed,
		Weekdays:        model.NewWeekdaySet(days...),
		TimeOfDay:       clock(at),
	})
	require.NoError(t, err)
	return task
}

func placement(task *model.Task, assignee uint, start time.Time) schedule.Placement {
	return schedule.Placement{TaskID: task.ID, AssigneeID: assignee, Start: start, End: start.Add(task.Duration())}
}
