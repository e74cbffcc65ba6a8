package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"family-planner/internal/model"
)

// PlanRepository persists weekly plans, their items and approvals.
type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) WithTx(tx *gorm.DB) *PlanRepository {
	return &PlanRepository{db: tx}
}

func (r *PlanRepository) Create(ctx context.Context, plan *model.WeeklyPlan) error {
	for i := range plan.Items {
		normalizeItem(&plan.Items[i])
		if plan.Items[i].Version == 0 {
			plan.Items[i].Version = 1
		}
	}
	plan.ExpiresAt = plan.ExpiresAt.UTC()
	if err := r.db.WithContext(ctx).Create(plan).Error; err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (r *PlanRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("member_id ASC") })
}

func (r *PlanRepository) FindByID(ctx context.Context, id uint) (*model.WeeklyPlan, error) {
	var plan model.WeeklyPlan
	if err := r.preloaded(ctx).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindForUpdate loads a plan with a row lock where the dialect has one.
func (r *PlanRepository) FindForUpdate(ctx context.Context, id uint) (*model.WeeklyPlan, error) {
	var plan model.WeeklyPlan
	if err := r.preloaded(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindOpen returns the mutable plan of a family for a week, or nil.
func (r *PlanRepository) FindOpen(ctx context.Context, familyID uint, weekStart string) (*model.WeeklyPlan, error) {
	var plan model.WeeklyPlan
	err := r.preloaded(ctx).
		Where("family_id = ? AND week_start = ? AND status IN ?", familyID, weekStart, mutableStatuses()).
		Order("id DESC").
		First(&plan).Error
	switch {
	case err == nil:
		return &plan, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("find open plan: %w", err)
	}
}

func (r *PlanRepository) ListByFamily(ctx context.Context, familyID uint, statuses ...model.PlanStatus) ([]model.WeeklyPlan, error) {
	q := r.preloaded(ctx).Where("family_id = ?", familyID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var plans []model.WeeklyPlan
	if err := q.Order("week_start DESC, id DESC").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// ListExpirable returns ids of open plans whose expiry is before now.
func (r *PlanRepository) ListExpirable(ctx context.Context, now time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.WeeklyPlan{}).
		Where("status IN ? AND expires_at < ?", mutableStatuses(), now.UTC()).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list expirable plans: %w", err)
	}
	return ids, nil
}

// ListUnmaterialized returns ids of approved plans that still have items
// without an instance.
func (r *PlanRepository) ListUnmaterialized(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.WeeklyPlanItem{}).
		Distinct("weekly_plan_items.plan_id").
		Joins("JOIN weekly_plans ON weekly_plans.id = weekly_plan_items.plan_id").
		Where("weekly_plans.status = ? AND weekly_plan_items.instance_id IS NULL", model.PlanApproved).
		Order("weekly_plan_items.plan_id ASC").
		Pluck("weekly_plan_items.plan_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list unmaterialized plans: %w", err)
	}
	return ids, nil
}

// UpdateStatus moves a plan to status if it is still in one of from.
// Losing the race yields ErrStaleStatus.
func (r *PlanRepository) UpdateStatus(ctx context.Context, planID uint, from []model.PlanStatus, status model.PlanStatus, decidedAt *time.Time) error {
	updates := map[string]any{"status": status}
	if decidedAt != nil {
		updates["decided_at"] = decidedAt.UTC()
	}
	res := r.db.WithContext(ctx).Model(&model.WeeklyPlan{}).
		Where("id = ? AND status IN ?", planID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update plan status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("plan %d left %v: %w", planID, from, ErrStaleStatus)
	}
	return nil
}

// SaveApproval upserts the approval of (plan, member).
func (r *PlanRepository) SaveApproval(ctx context.Context, a *model.WeeklyPlanApproval) error {
	if a.ID != 0 {
		err := r.db.WithContext(ctx).Model(&model.WeeklyPlanApproval{}).
			Where("id = ?", a.ID).
			Updates(map[string]any{"status": a.Status, "decided_at": a.DecidedAt}).Error
		if err != nil {
			return fmt.Errorf("save approval: %w", err)
		}
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plan_id"}, {Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "decided_at", "updated_at"}),
	}).Create(a).Error
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	return nil
}

func (r *PlanRepository) FindItem(ctx context.Context, id uint) (*model.WeeklyPlanItem, error) {
	var item model.WeeklyPlanItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// AddItem appends item to the end of its plan at version 1.
func (r *PlanRepository) AddItem(ctx context.Context, item *model.WeeklyPlanItem) error {
	var last sql.NullInt64
	if err := r.db.WithContext(ctx).Model(&model.WeeklyPlanItem{}).
		Where("plan_id = ?", item.PlanID).
		Select("MAX(position)").
		Row().Scan(&last); err != nil {
		return fmt.Errorf("next item position: %w", err)
	}
	item.Position = 0
	if last.Valid {
		item.Position = int(last.Int64) + 1
	}
	item.Version = 1
	normalizeItem(item)
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("create plan item: %w", err)
	}
	return nil
}

// ItemChanges are the editable fields of a plan item.
type ItemChanges struct {
	AssigneeID uint
	Day        string
	StartAt    time.Time
	EndAt      time.Time
	Reasoning  *string
}

// UpdateItem applies ch only if the item is still at expectedVersion, in a
// single conditional UPDATE that also bumps the version by one. It returns
// ErrVersionConflict when another edit got there first and
// gorm.ErrRecordNotFound when the item is gone.
func (r *PlanRepository) UpdateItem(ctx context.Context, itemID uint, expectedVersion int, ch ItemChanges, editorID uint, at time.Time) (*model.WeeklyPlanItem, error) {
	updates := map[string]any{
		"assignee_id":       ch.AssigneeID,
		"day":               ch.Day,
		"start_at":          ch.StartAt.UTC(),
		"end_at":            ch.EndAt.UTC(),
		"version":           gorm.Expr("version + 1"),
		"last_edited_by_id": editorID,
		"last_edited_at":    at.UTC(),
	}
	if ch.Reasoning != nil {
		updates["reasoning"] = *ch.Reasoning
	}

	res := r.db.WithContext(ctx).Model(&model.WeeklyPlanItem{}).
		Where("id = ? AND version = ?", itemID, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update plan item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.conflictOrMissing(ctx, itemID, expectedVersion)
	}
	return r.FindItem(ctx, itemID)
}

// DeleteItem removes an item if it is still at expectedVersion.
func (r *PlanRepository) DeleteItem(ctx context.Context, itemID uint, expectedVersion int) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND version = ?", itemID, expectedVersion).
		Delete(&model.WeeklyPlanItem{})
	if res.Error != nil {
		return fmt.Errorf("delete plan item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, itemID, expectedVersion)
	}
	return nil
}

func (r *PlanRepository) conflictOrMissing(ctx context.Context, itemID uint, expectedVersion int) error {
	current, err := r.FindItem(ctx, itemID)
	if err != nil {
		return err
	}
	return fmt.Errorf("plan item %d is at version %d, not %d: %w", itemID, current.Version, expectedVersion, ErrVersionConflict)
}

// MarkMaterialized records the outcome of turning an item into an
// instance. A nil instanceID with a message records a failure.
func (r *PlanRepository) MarkMaterialized(ctx context.Context, itemID uint, instanceID *uint, failure string) error {
	err := r.db.WithContext(ctx).Model(&model.WeeklyPlanItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{"instance_id": instanceID, "materialize_error": failure}).Error
	if err != nil {
		return fmt.Errorf("mark plan item materialized: %w", err)
	}
	return nil
}

func normalizeItem(item *model.WeeklyPlanItem) {
	item.StartAt, item.EndAt = item.StartAt.UTC(), item.EndAt.UTC()
}

func mutableStatuses() []model.PlanStatus {
	return []model.PlanStatus{model.PlanDraft, model.PlanPendingApproval}
}
