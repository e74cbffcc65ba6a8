package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"family-planner/internal/calendar"
	"family-planner/internal/model"
	"family-planner/internal/repository"
)

// calendarSync mirrors committed instances into their assignee's
// calendar. Failures are reported as warnings and never undo the
// instance. A nil mirror disables mirroring.
type calendarSync struct {
	mirror    *calendar.Mirror
	instances *repository.InstanceRepository
}

func (c calendarSync) publish(ctx context.Context, insts []model.ScheduledTaskInstance, tasks map[uint]model.Task) []string {
	if c.mirror == nil {
		return nil
	}
	var warnings []string
	for i := range insts {
		inst := &insts[i]
		title := fmt.Sprintf("task %d", inst.TaskID)
		if t, ok := tasks[inst.TaskID]; ok {
			title = t.Title
		}
		id, err := c.mirror.Create(ctx, inst.AssigneeID, title, inst.Reasoning, inst.StartAt, inst.EndAt)
		if err != nil {
			zap.L().Warn("[Calendar] mirror instance failed", zap.Uint("instance_id", inst.ID), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("instance %d not mirrored: %v", inst.ID, err))
			continue
		}
		if err := c.instances.SetCalendarEvent(ctx, inst.ID, &id); err != nil {
			zap.L().Warn("[Calendar] store event id failed", zap.Uint("instance_id", inst.ID), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("instance %d event id not stored: %v", inst.ID, err))
			continue
		}
		inst.CalendarEventID = &id
	}
	return warnings
}

func (c calendarSync) retract(ctx context.Context, inst model.ScheduledTaskInstance) {
	if c.mirror == nil || inst.CalendarEventID == nil {
		return
	}
	if err := c.mirror.Delete(ctx, inst.AssigneeID, *inst.CalendarEventID); err != nil {
		zap.L().Warn("[Calendar] delete mirrored event failed",
			zap.Uint("instance_id", inst.ID), zap.String("event_id", *inst.CalendarEventID), zap.Error(err))
	}
}
