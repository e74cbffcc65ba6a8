// Package plan is the weekly plan consensus state machine. It mutates plan
// values in memory only; callers persist the result inside one
// transaction.
package plan

import (
	"errors"
	"fmt"
	"time"

	"family-planner/internal/model"
)

var (
	// ErrPlanClosed is returned for any change to an approved, rejected
	// or expired plan.
	ErrPlanClosed = errors.New("plan is closed")
	// ErrNotMember is returned when the actor is not in the plan's family.
	ErrNotMember = errors.New("not a member of the plan's family")
	// ErrInvalidDecision is returned for votes other than approve/reject.
	ErrInvalidDecision = errors.New("invalid decision")
)

// Outcome describes what a vote did to the plan.
type Outcome struct {
	Previous model.PlanStatus
	Status   model.PlanStatus
	// Materialize is set exactly when this vote completed the consensus.
	Materialize bool
	Approval    model.WeeklyPlanApproval
}

// Evaluate derives a plan's status from its approvals. Any rejection wins
// immediately; unanimous approval of every member approves; a partial
// approval moves a draft to pending_approval. Closed plans never change.
func Evaluate(current model.PlanStatus, approvals []model.WeeklyPlanApproval, members []uint) model.PlanStatus {
	if !current.Mutable() {
		return current
	}

	byMember := make(map[uint]model.ApprovalStatus, len(approvals))
	anyApproved := false
	for _, a := range approvals {
		if a.Status == model.ApprovalRejected {
			return model.PlanRejected
		}
		if a.Status == model.ApprovalApproved {
			anyApproved = true
		}
		byMember[a.MemberID] = a.Status
	}

	if len(members) > 0 {
		all := true
		for _, m := range members {
			if byMember[m] != model.ApprovalApproved {
				all = false
				break
			}
		}
		if all {
			return model.PlanApproved
		}
	}

	if anyApproved {
		return model.PlanPendingApproval
	}
	return current
}

// Decide records memberID's vote on p and re-evaluates the plan.
func Decide(p *model.WeeklyPlan, members []uint, memberID uint, decision model.ApprovalStatus, at time.Time) (Outcome, error) {
	out := Outcome{Previous: p.Status, Status: p.Status}
	if !p.Status.Mutable() {
		return out, fmt.Errorf("plan %d is %s: %w", p.ID, p.Status, ErrPlanClosed)
	}
	if !contains(members, memberID) {
		return out, fmt.Errorf("user %d on plan %d: %w", memberID, p.ID, ErrNotMember)
	}
	if decision != model.ApprovalApproved && decision != model.ApprovalRejected {
		return out, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	idx := -1
	for i := range p.Approvals {
		if p.Approvals[i].MemberID == memberID {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.Approvals = append(p.Approvals, model.WeeklyPlanApproval{PlanID: p.ID, MemberID: memberID})
		idx = len(p.Approvals) - 1
	}
	decidedAt := at
	p.Approvals[idx].Status = decision
	p.Approvals[idx].DecidedAt = &decidedAt

	p.Status = Evaluate(p.Status, p.Approvals, members)
	if !p.Status.Mutable() {
		p.DecidedAt = &decidedAt
	}

	out.Status = p.Status
	out.Approval = p.Approvals[idx]
	out.Materialize = out.Previous != model.PlanApproved && out.Status == model.PlanApproved
	return out, nil
}

// Submit asks the family for approval. Submitting a pending plan is a
// no-op.
func Submit(p *model.WeeklyPlan) error {
	switch p.Status {
	case model.PlanDraft:
		p.Status = model.PlanPendingApproval
		return nil
	case model.PlanPendingApproval:
		return nil
	default:
		return fmt.Errorf("plan %d is %s: %w", p.ID, p.Status, ErrPlanClosed)
	}
}

// Expire closes p when it is still open past its expiry.
func Expire(p *model.WeeklyPlan, now time.Time) bool {
	if !p.Status.Mutable() || !now.After(p.ExpiresAt) {
		return false
	}
	p.Status = model.PlanExpired
	return true
}

// ResetApprovals sets every approved vote except editor's back to pending
// and returns the member ids that were reset.
func ResetApprovals(p *model.WeeklyPlan, editor uint) []uint {
	var reset []uint
	for i := range p.Approvals {
		a := &p.Approvals[i]
		if a.MemberID == editor || a.Status != model.ApprovalApproved {
			continue
		}
		a.Status = model.ApprovalPending
		a.DecidedAt = nil
		reset = append(reset, a.MemberID)
	}
	return reset
}

// ExpiresAt is the end of the week starting at weekStart plus one day.
func ExpiresAt(weekStart time.Time) time.Time {
	return model.StartOfDay(weekStart).AddDate(0, 0, 8)
}

func contains(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
