package model

import "time"

// Family groups users that share household chores and weekly plans.
type Family struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Members   []FamilyMember `gorm:"foreignKey:FamilyID"`
}

type FamilyMember struct {
	ID        uint `gorm:"primaryKey"`
	FamilyID  uint `gorm:"uniqueIndex:idx_family_user"`
	UserID    uint `gorm:"uniqueIndex:idx_family_user;index"`
	CreatedAt time.Time
}

// MemberIDs lists the user ids of f's members.
func (f Family) MemberIDs() []uint {
	ids := make([]uint, 0, len(f.Members))
	for _, m := range f.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}
