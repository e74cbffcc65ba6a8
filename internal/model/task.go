package model

import "time"

type TaskKind string

const (
	KindPersonalGoal   TaskKind = "personal-goal"
	KindHouseholdChore TaskKind = "household-chore"
)

type SchedulingMode string

const (
	ModeFixed    SchedulingMode = "fixed"
	ModeFlexible SchedulingMode = "flexible"
)

type FrequencyPeriod string

const (
	PerDay  FrequencyPeriod = "per-day"
	PerWeek FrequencyPeriod = "per-week"
)

// Task is a recurring unit of work. Fixed tasks recur on Weekdays at
// TimeOfDay; flexible tasks carry a Frequency per Period and are placed by
// search.
type Task struct {
	ID                  uint  `gorm:"primaryKey"`
	OwnerID             uint  `gorm:"index"`
	FamilyID            *uint `gorm:"index"`
	Title               string
	Description         string
	Kind                TaskKind       `gorm:"size:32"`
	DurationMinutes     int            `gorm:"not null"`
	Priority            int            `gorm:"default:3"`
	Mode                SchedulingMode `gorm:"size:16"`
	Weekdays            WeekdaySet     `gorm:"type:varchar(32)"`
	TimeOfDay           *ClockTime     `gorm:"type:varchar(5)"`
	Frequency           int
	Period              FrequencyPeriod `gorm:"size:16"`
	PreferredStart      *ClockTime      `gorm:"type:varchar(5)"`
	PreferredEnd        *ClockTime      `gorm:"type:varchar(5)"`
	AllowMultiplePerDay bool            `gorm:"default:false"`
	DefaultAssigneeID   *uint
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (t Task) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// Assignee is the member a placement of t goes to when nobody is named.
func (t Task) Assignee() uint {
	if t.Kind == KindHouseholdChore && t.DefaultAssigneeID != nil {
		return *t.DefaultAssigneeID
	}
	return t.OwnerID
}

type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceCompleted InstanceStatus = "completed"
	InstanceSkipped   InstanceStatus = "skipped"
)

// ScheduledTaskInstance is a committed placement of a task.
type ScheduledTaskInstance struct {
	ID              uint      `gorm:"primaryKey"`
	TaskID          uint      `gorm:"index"`
	AssigneeID      uint      `gorm:"index"`
	Day             string    `gorm:"size:10;index"`
	StartAt         time.Time `gorm:"index"`
	EndAt           time.Time
	Status          InstanceStatus `gorm:"size:16;default:pending"`
	CalendarEventID *string
	Reasoning       string
	PlanItemID      *uint `gorm:"uniqueIndex"`
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
