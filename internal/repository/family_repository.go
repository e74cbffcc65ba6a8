package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"family-planner/internal/model"
)

// FamilyRepository manages families and their members.
type FamilyRepository struct {
	db *gorm.DB
}

func NewFamilyRepository(db *gorm.DB) *FamilyRepository {
	return &FamilyRepository{db: db}
}

func (r *FamilyRepository) Create(ctx context.Context, name string, memberIDs ...uint) (*model.Family, error) {
	family := model.Family{Name: name}
	for _, id := range memberIDs {
		family.Members = append(family.Members, model.FamilyMember{UserID: id})
	}
	if err := r.db.WithContext(ctx).Create(&family).Error; err != nil {
		return nil, fmt.Errorf("create family: %w", err)
	}
	return &family, nil
}

// AddMember is idempotent.
func (r *FamilyRepository) AddMember(ctx context.Context, familyID, userID uint) error {
	member := model.FamilyMember{FamilyID: familyID, UserID: userID}
	err := r.db.WithContext(ctx).
		Where("family_id = ? AND user_id = ?", familyID, userID).
		FirstOrCreate(&member).Error
	if err != nil {
		return fmt.Errorf("add family member: %w", err)
	}
	return nil
}

func (r *FamilyRepository) FindByID(ctx context.Context, id uint) (*model.Family, error) {
	var family model.Family
	if err := r.db.WithContext(ctx).Preload("Members").First(&family, id).Error; err != nil {
		return nil, err
	}
	return &family, nil
}

// FindByUser returns the family userID belongs to, or nil when none.
func (r *FamilyRepository) FindByUser(ctx context.Context, userID uint) (*model.Family, error) {
	var member model.FamilyMember
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").First(&member).Error
	switch {
	case err == nil:
		return r.FindByID(ctx, member.FamilyID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("find family of user %d: %w", userID, err)
	}
}

func (r *FamilyRepository) ListAll(ctx context.Context) ([]model.Family, error) {
	var families []model.Family
	if err := r.db.WithContext(ctx).Preload("Members").Order("id ASC").Find(&families).Error; err != nil {
		return nil, err
	}
	return families, nil
}
