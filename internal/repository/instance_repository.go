package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"family-planner/internal/model"
)

// InstanceRepository handles committed task instances.
type InstanceRepository struct {
	db *gorm.DB
}

func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) WithTx(tx *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: tx}
}

func (r *InstanceRepository) Create(ctx context.Context, inst *model.ScheduledTaskInstance) error {
	if inst.Status == "" {
		inst.Status = model.InstancePending
	}
	// SQLite compares timestamps as text, so everything is stored in UTC.
	inst.StartAt, inst.EndAt = inst.StartAt.UTC(), inst.EndAt.UTC()
	if err := r.db.WithContext(ctx).Create(inst).Error; err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	return nil
}

func (r *InstanceRepository) FindByID(ctx context.Context, id uint) (*model.ScheduledTaskInstance, error) {
	var inst model.ScheduledTaskInstance
	if err := r.db.WithContext(ctx).First(&inst, id).Error; err != nil {
		return nil, err
	}
	return &inst, nil
}

// ScheduledDates lists the start of every non-skipped instance of taskID
// within [from, to), one entry per instance.
func (r *InstanceRepository) ScheduledDates(ctx context.Context, taskID uint, from, to time.Time) ([]time.Time, error) {
	var starts []time.Time
	err := r.db.WithContext(ctx).Model(&model.ScheduledTaskInstance{}).
		Where("task_id = ? AND status <> ? AND start_at >= ? AND start_at < ?", taskID, model.InstanceSkipped, from.UTC(), to.UTC()).
		Order("start_at ASC").
		Pluck("start_at", &starts).Error
	if err != nil {
		return nil, fmt.Errorf("list scheduled dates: %w", err)
	}
	return starts, nil
}

// ListForAssignees returns non-skipped instances of any of userIDs that
// overlap [from, to).
func (r *InstanceRepository) ListForAssignees(ctx context.Context, userIDs []uint, from, to time.Time) ([]model.ScheduledTaskInstance, error) {
	var out []model.ScheduledTaskInstance
	err := r.db.WithContext(ctx).
		Where("assignee_id IN ? AND status <> ? AND start_at < ? AND end_at > ?", userIDs, model.InstanceSkipped, to.UTC(), from.UTC()).
		Order("start_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}

// SetStatus moves inst from pending to status.
func (r *InstanceRepository) SetStatus(ctx context.Context, inst *model.ScheduledTaskInstance, status model.InstanceStatus, at time.Time) error {
	updates := map[string]any{"status": status}
	if status == model.InstanceCompleted {
		updates["completed_at"] = at.UTC()
	}
	res := r.db.WithContext(ctx).Model(&model.ScheduledTaskInstance{}).
		Where("id = ? AND status = ?", inst.ID, model.InstancePending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update instance status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("instance %d is no longer pending: %w", inst.ID, ErrStaleStatus)
	}
	inst.Status = status
	if status == model.InstanceCompleted {
		inst.CompletedAt = &at
	}
	return nil
}

func (r *InstanceRepository) SetCalendarEvent(ctx context.Context, id uint, eventID *string) error {
	if err := r.db.WithContext(ctx).Model(&model.ScheduledTaskInstance{}).
		Where("id = ?", id).
		Update("calendar_event_id", eventID).Error; err != nil {
		return fmt.Errorf("link calendar event: %w", err)
	}
	return nil
}

func (r *InstanceRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.ScheduledTaskInstance{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
