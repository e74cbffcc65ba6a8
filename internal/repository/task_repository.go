package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"family-planner/internal/model"
)

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) WithTx(tx *gorm.DB) *TaskRepository {
	return &TaskRepository{db: tx}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// FindMany loads tasks by id; missing ids are simply absent from the map.
func (r *TaskRepository) FindMany(ctx context.Context, ids []uint) (map[uint]model.Task, error) {
	out := make(map[uint]model.Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	for _, t := range tasks {
		out[t.ID] = t
	}
	return out, nil
}

// ListVisible returns the tasks owned by any of ownerIDs plus the tasks of
// familyID, highest priority first.
func (r *TaskRepository) ListVisible(ctx context.Context, ownerIDs []uint, familyID *uint) ([]model.Task, error) {
	q := r.db.WithContext(ctx).Where("owner_id IN ?", ownerIDs)
	if familyID != nil {
		q = q.Or("family_id = ?", *familyID)
	}
	var tasks []model.Task
	if err := q.Order("priority ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *TaskRepository) Delete(ctx context.Context, ownerID, taskID uint) error {
	res := r.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, taskID).Delete(&model.Task{})
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
