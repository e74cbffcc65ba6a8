package model

import "time"

type PlanStatus string

const (
	PlanDraft           PlanStatus = "draft"
	PlanPendingApproval PlanStatus = "pending_approval"
	PlanApproved        PlanStatus = "approved"
	PlanRejected        PlanStatus = "rejected"
	PlanExpired         PlanStatus = "expired"
)

// Mutable reports whether items of a plan in status s may still change.
func (s PlanStatus) Mutable() bool {
	return s == PlanDraft || s == PlanPendingApproval
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// WeeklyPlan is a family-scoped batch of placements for one week awaiting
// unanimous approval.
type WeeklyPlan struct {
	ID          uint       `gorm:"primaryKey"`
	FamilyID    uint       `gorm:"index"`
	WeekStart   string     `gorm:"size:10;index"`
	Status      PlanStatus `gorm:"size:24;index;default:draft"`
	ExpiresAt   time.Time  `gorm:"index"`
	CreatedByID uint
	Reasoning   string
	DecidedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Items     []WeeklyPlanItem     `gorm:"foreignKey:PlanID"`
	Approvals []WeeklyPlanApproval `gorm:"foreignKey:PlanID"`
}

// WeeklyPlanItem is a not-yet-committed placement. Version starts at 1 and
// grows by one on every accepted edit.
type WeeklyPlanItem struct {
	ID               uint `gorm:"primaryKey"`
	PlanID           uint `gorm:"index"`
	Position         int
	TaskID           uint
	AssigneeID       uint
	Day              string `gorm:"size:10"`
	StartAt          time.Time
	EndAt            time.Time
	Reasoning        string
	Version          int `gorm:"not null;default:1"`
	LastEditedByID   *uint
	LastEditedAt     *time.Time
	InstanceID       *uint
	MaterializeError string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type WeeklyPlanApproval struct {
	ID        uint           `gorm:"primaryKey"`
	PlanID    uint           `gorm:"uniqueIndex:idx_plan_member"`
	MemberID  uint           `gorm:"uniqueIndex:idx_plan_member"`
	Status    ApprovalStatus `gorm:"size:16;default:pending"`
	DecidedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
