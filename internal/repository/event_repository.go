package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"family-planner/internal/model"
)

// EventRepository stores events the planner writes into users' own
// calendars.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, ev *model.CalendarEvent) error {
	ev.StartAt, ev.EndAt = ev.StartAt.UTC(), ev.EndAt.UTC()
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("create calendar event: %w", err)
	}
	return nil
}

func (r *EventRepository) Delete(ctx context.Context, userID uint, id string) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&model.CalendarEvent{})
	if res.Error != nil {
		return fmt.Errorf("delete calendar event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Between returns the user's events overlapping [from, to).
func (r *EventRepository) Between(ctx context.Context, userID uint, from, to time.Time) ([]model.CalendarEvent, error) {
	var out []model.CalendarEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND start_at < ? AND end_at > ?", userID, to.UTC(), from.UTC()).
		Order("start_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	return out, nil
}

func (r *EventRepository) ListByUser(ctx context.Context, userID uint) ([]model.CalendarEvent, error) {
	var out []model.CalendarEvent
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("start_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	return out, nil
}
