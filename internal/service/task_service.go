package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"family-planner/internal/calendar"
	"family-planner/internal/model"
	"family-planner/internal/repository"
)

// TaskInput represents data required to create a task.
type TaskInput struct {
	Title               string                `json:"title"`
	Description         string                `json:"description"`
	Kind                model.TaskKind        `json:"kind"`
	DurationMinutes     int                   `json:"duration_minutes"`
	Priority            int                   `json:"priority"`
	Mode                model.SchedulingMode  `json:"mode"`
	Weekdays            model.WeekdaySet      `json:"weekdays"`
	TimeOfDay           *model.ClockTime      `json:"time_of_day"`
	Frequency           int                   `json:"frequency"`
	Period              model.FrequencyPeriod `json:"period"`
	PreferredStart      *model.ClockTime      `json:"preferred_start"`
	PreferredEnd        *model.ClockTime      `json:"preferred_end"`
	AllowMultiplePerDay bool                  `json:"allow_multiple_per_day"`
	DefaultAssigneeID   *uint                 `json:"default_assignee_id"`
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo     *repository.TaskRepository
	instanceRepo *repository.InstanceRepository
	families     *FamilyService
	sync         calendarSync
}

func NewTaskService(taskRepo *repository.TaskRepository, instanceRepo *repository.InstanceRepository, families *FamilyService, mirror *calendar.Mirror) *TaskService {
	return &TaskService{
		taskRepo:     taskRepo,
		instanceRepo: instanceRepo,
		families:     families,
		sync:         calendarSync{mirror: mirror, instances: instanceRepo},
	}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput) (*model.Task, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if input.DurationMinutes <= 0 || input.DurationMinutes > 24*60 {
		return nil, fmt.Errorf("%w: duration must be between 1 and 1440 minutes", ErrInvalidInput)
	}
	if input.Priority == 0 {
		input.Priority = 3
	}
	if input.Priority < 1 || input.Priority > 5 {
		return nil, fmt.Errorf("%w: priority must be between 1 and 5", ErrInvalidInput)
	}
	if input.Kind == "" {
		input.Kind = model.KindPersonalGoal
	}

	task := model.Task{
		OwnerID:             user.ID,
		Title:               input.Title,
		Description:         strings.TrimSpace(input.Description),
		Kind:                input.Kind,
		DurationMinutes:     input.DurationMinutes,
		Priority:            input.Priority,
		Mode:                input.Mode,
		PreferredStart:      input.PreferredStart,
		PreferredEnd:        input.PreferredEnd,
		AllowMultiplePerDay: input.AllowMultiplePerDay,
	}

	switch input.Mode {
	case model.ModeFixed:
		if input.Weekdays.Len() == 0 || input.TimeOfDay == nil {
			return nil, fmt.Errorf("%w: a fixed task needs weekdays and a time of day", ErrInvalidInput)
		}
		task.Weekdays = input.Weekdays
		task.TimeOfDay = input.TimeOfDay
	case model.ModeFlexible:
		if input.Frequency < 1 {
			return nil, fmt.Errorf("%w: a flexible task needs a frequency of at least 1", ErrInvalidInput)
		}
		if input.Period != model.PerDay && input.Period != model.PerWeek {
			return nil, fmt.Errorf("%w: period must be %q or %q", ErrInvalidInput, model.PerDay, model.PerWeek)
		}
		task.Frequency = input.Frequency
		task.Period = input.Period
	default:
		return nil, fmt.Errorf("%w: mode must be %q or %q", ErrInvalidInput, model.ModeFixed, model.ModeFlexible)
	}

	switch input.Kind {
	case model.KindHouseholdChore:
		family, err := s.families.FamilyOf(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		task.FamilyID = &family.ID
		if input.DefaultAssigneeID != nil {
			if !containsID(family.MemberIDs(), *input.DefaultAssigneeID) {
				return nil, fmt.Errorf("%w: user %d is not in family %d", ErrInvalidInput, *input.DefaultAssigneeID, family.ID)
			}
			task.DefaultAssigneeID = input.DefaultAssigneeID
		}
	case model.KindPersonalGoal:
		if input.DefaultAssigneeID != nil && *input.DefaultAssigneeID != user.ID {
			return nil, fmt.Errorf("%w: a personal goal is always done by its owner", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown task kind %q", ErrInvalidInput, input.Kind)
	}

	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns the user's own tasks and the chores of their family.
func (s *TaskService) ListTasks(ctx context.Context, userID uint) ([]model.Task, error) {
	actor, err := s.families.Actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.taskRepo.ListVisible(ctx, []uint{userID}, actor.FamilyID)
}

// GetTask loads a task the user may see.
func (s *TaskService) GetTask(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	actor, err := s.families.Actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !taskVisible(*task, actor) {
		return nil, fmt.Errorf("task %d for user %d: %w", taskID, userID, ErrForbidden)
	}
	return task, nil
}

// DeleteTask removes a task the user owns.
func (s *TaskService) DeleteTask(ctx context.Context, userID, taskID uint) error {
	return s.taskRepo.Delete(ctx, userID, taskID)
}

// ListInstances returns the user's committed instances overlapping
// [from, to).
func (s *TaskService) ListInstances(ctx context.Context, userID uint, from, to time.Time) ([]model.ScheduledTaskInstance, error) {
	return s.instanceRepo.ListForAssignees(ctx, []uint{userID}, from, to)
}

func (s *TaskService) CompleteInstance(ctx context.Context, userID, instanceID uint, at time.Time) (*model.ScheduledTaskInstance, error) {
	return s.transition(ctx, userID, instanceID, model.InstanceCompleted, at)
}

func (s *TaskService) SkipInstance(ctx context.Context, userID, instanceID uint, at time.Time) (*model.ScheduledTaskInstance, error) {
	return s.transition(ctx, userID, instanceID, model.InstanceSkipped, at)
}

// DeleteInstance removes an instance and, best effort, its calendar event.
func (s *TaskService) DeleteInstance(ctx context.Context, userID, instanceID uint) error {
	inst, err := s.ownedInstance(ctx, userID, instanceID)
	if err != nil {
		return err
	}
	if err := s.instanceRepo.Delete(ctx, inst.ID); err != nil {
		return err
	}
	s.sync.retract(ctx, *inst)
	return nil
}

func (s *TaskService) transition(ctx context.Context, userID, instanceID uint, status model.InstanceStatus, at time.Time) (*model.ScheduledTaskInstance, error) {
	inst, err := s.ownedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != model.InstancePending {
		return nil, fmt.Errorf("instance %d is %s: %w", inst.ID, inst.Status, ErrInvalidTransition)
	}
	if err := s.instanceRepo.SetStatus(ctx, inst, status, at); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		return nil, err
	}
	if status == model.InstanceSkipped && inst.CalendarEventID != nil {
		s.sync.retract(ctx, *inst)
		if err := s.instanceRepo.SetCalendarEvent(ctx, inst.ID, nil); err != nil {
			zap.L().Warn("[Calendar] clear event id failed", zap.Uint("instance_id", inst.ID), zap.Error(err))
		}
		inst.CalendarEventID = nil
	}
	return inst, nil
}

// ownedInstance loads an instance assigned to the user or to someone in
// their family.
func (s *TaskService) ownedInstance(ctx context.Context, userID, instanceID uint) (*model.ScheduledTaskInstance, error) {
	inst, err := s.instanceRepo.FindByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	actor, err := s.families.Actor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !containsID(actor.MemberIDs, inst.AssigneeID) {
		return nil, fmt.Errorf("instance %d for user %d: %w", instanceID, userID, ErrForbidden)
	}
	return inst, nil
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
