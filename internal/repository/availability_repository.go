package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"family-planner/internal/model"
)

// AvailabilityRepository stores the facts the availability resolver reads:
// weekly work schedule, vacations and calendar subscriptions.
type AvailabilityRepository struct {
	db *gorm.DB
}

func NewAvailabilityRepository(db *gorm.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// SaveWorkDay replaces the row for (user, weekday).
func (r *AvailabilityRepository) SaveWorkDay(ctx context.Context, day *model.WorkDay) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "weekday"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_working", "start_time", "end_time", "location", "commute_to_minutes", "commute_from_minutes", "updated_at"}),
	}).Create(day).Error
	if err != nil {
		return fmt.Errorf("save work day: %w", err)
	}
	return nil
}

// WorkWeek returns the user's schedule keyed by weekday.
func (r *AvailabilityRepository) WorkWeek(ctx context.Context, userID uint) (map[model.Weekday]model.WorkDay, error) {
	var days []model.WorkDay
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&days).Error; err != nil {
		return nil, fmt.Errorf("list work days: %w", err)
	}
	out := make(map[model.Weekday]model.WorkDay, len(days))
	for _, d := range days {
		out[d.Weekday] = d
	}
	return out, nil
}

func (r *AvailabilityRepository) AddVacation(ctx context.Context, v *model.Vacation) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("create vacation: %w", err)
	}
	return nil
}

// Vacations returns the user's vacations overlapping the dates [from, to].
func (r *AvailabilityRepository) Vacations(ctx context.Context, userID uint, from, to string) ([]model.Vacation, error) {
	var out []model.Vacation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND start_date <= ? AND end_date >= ?", userID, to, from).
		Order("start_date ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list vacations: %w", err)
	}
	return out, nil
}

func (r *AvailabilityRepository) AddSubscription(ctx context.Context, s *model.CalendarSubscription) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("create calendar subscription: %w", err)
	}
	return nil
}

func (r *AvailabilityRepository) Subscriptions(ctx context.Context, userID uint) ([]model.CalendarSubscription, error) {
	var out []model.CalendarSubscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list calendar subscriptions: %w", err)
	}
	return out, nil
}
