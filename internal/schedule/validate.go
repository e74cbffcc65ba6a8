package schedule

import (
	"errors"
	"fmt"
	"time"

	"family-planner/internal/model"
)

// ErrValidationRejected is wrapped by every RejectionError.
var ErrValidationRejected = errors.New("placement rejected")

// DefaultTolerance is how far a fixed task may drift from its time of day.
const DefaultTolerance = 15 * time.Minute

type RejectReason string

const (
	ReasonTaskNotFound    RejectReason = "task-not-found"
	ReasonNotOwned        RejectReason = "not-owned"
	ReasonWrongWeekday    RejectReason = "wrong-weekday"
	ReasonWrongTimeOfDay  RejectReason = "wrong-time-of-day"
	ReasonInvalidInterval RejectReason = "invalid-interval"
	// ReasonNotAchievable is raised after validation, when a placement
	// would exceed what the task still needs or can still get.
	ReasonNotAchievable RejectReason = "not-achievable"
)

// Placement is a proposed task occurrence, from the planner or from a
// person moving things around.
type Placement struct {
	TaskID     uint      `json:"task_id"`
	AssigneeID uint      `json:"assignee_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// Day is the calendar date of the placement in its own location.
func (p Placement) Day() string {
	return model.DateKey(p.Start)
}

type Rejection struct {
	Placement Placement    `json:"placement"`
	Reason    RejectReason `json:"reason"`
	Detail    string       `json:"detail"`
}

// RejectionError carries a single rejection through an error return.
type RejectionError struct {
	Rejection
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("task %d: %s: %s", e.Placement.TaskID, e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error {
	return ErrValidationRejected
}

// Verdict splits a batch into accepted placements and reasoned rejections.
// Order within each list follows the input.
type Verdict struct {
	Accepted []Placement `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// Actor is the person on whose behalf a batch is checked, together with
// the members of their family (including themselves).
type Actor struct {
	UserID    uint
	FamilyID  *uint
	MemberIDs []uint
}

func (a Actor) isMember(userID uint) bool {
	if userID == a.UserID {
		return true
	}
	for _, id := range a.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Validator enforces ownership and the hard recurrence constraints of each
// task. It treats every batch the same regardless of where it came from.
type Validator struct {
	tolerance time.Duration
}

func NewValidator(tolerance time.Duration) *Validator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Validator{tolerance: tolerance}
}

// Validate checks every placement of batch.
func (v *Validator) Validate(tasks map[uint]model.Task, actor Actor, batch []Placement) Verdict {
	var out Verdict
	for _, p := range batch {
		var task *model.Task
		if t, ok := tasks[p.TaskID]; ok {
			task = &t
		}
		if rej := v.Check(task, actor, p); rej != nil {
			out.Rejected = append(out.Rejected, *rej)
			continue
		}
		out.Accepted = append(out.Accepted, p)
	}
	return out
}

// Check runs the checks in order: task exists, ownership, weekday, time of
// day, interval shape. A nil result means the placement is valid.
func (v *Validator) Check(task *model.Task, actor Actor, p Placement) *Rejection {
	reject := func(reason RejectReason, format string, args ...any) *Rejection {
		return &Rejection{Placement: p, Reason: reason, Detail: fmt.Sprintf(format, args...)}
	}

	if task == nil {
		return reject(ReasonTaskNotFound, "task %d does not exist", p.TaskID)
	}

	if !v.visible(*task, actor) {
		return reject(ReasonNotOwned, "task %d belongs to user %d", task.ID, task.OwnerID)
	}
	switch task.Kind {
	case model.KindHouseholdChore:
		if p.AssigneeID != task.OwnerID && !actor.isMember(p.AssigneeID) {
			return reject(ReasonNotOwned, "user %d is not in the family of task %d", p.AssigneeID, task.ID)
		}
	default:
		if p.AssigneeID != task.OwnerID {
			return reject(ReasonNotOwned, "personal goal %d can only be placed for its owner %d", task.ID, task.OwnerID)
		}
	}

	if task.Mode == model.ModeFixed {
		day := model.WeekdayOf(p.Start)
		if !task.Weekdays.Has(day) {
			return reject(ReasonWrongWeekday, "%s is not one of %s", day, task.Weekdays)
		}
		if task.TimeOfDay != nil {
			drift := p.Start.Sub(task.TimeOfDay.On(p.Start))
			if drift < 0 {
				drift = -drift
			}
			if drift > v.tolerance {
				return reject(ReasonWrongTimeOfDay, "start %s is %s away from %s", model.ClockOf(p.Start), drift, *task.TimeOfDay)
			}
		}
	}

	if !p.End.After(p.Start) {
		return reject(ReasonInvalidInterval, "end %s is not after start %s", p.End.Format(time.RFC3339), p.Start.Format(time.RFC3339))
	}
	return nil
}

// visible reports whether actor may schedule task at all: their own task,
// a family member's task, or a task of their family.
func (v *Validator) visible(task model.Task, actor Actor) bool {
	if actor.isMember(task.OwnerID) {
		return true
	}
	return task.FamilyID != nil && actor.FamilyID != nil && *task.FamilyID == *actor.FamilyID
}
