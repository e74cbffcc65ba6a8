package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"family-planner/internal/model"
)

var now = time.Date(2025, time.January, 6, 12, 0, 0, 0, time.UTC)

func newPlan(members ...uint) *model.WeeklyPlan {
	p := &model.WeeklyPlan{ID: 1, FamilyID: 7, Status: model.PlanDraft, ExpiresAt: ExpiresAt(now)}
	for _, m := range members {
		p.Approvals = append(p.Approvals, model.WeeklyPlanApproval{PlanID: 1, MemberID: m, Status: model.ApprovalPending})
	}
	return p
}

func TestTwoMembersApproveInTurn(t *testing.T) {
	members := []uint{1, 2}
	p := newPlan(members...)

	out, err := Decide(p, members, 1, model.ApprovalApproved, now)
	require.NoError(t, err)
	require.Equal(t, model.PlanPendingApproval, out.Status)
	require.False(t, out.Materialize)

	out, err = Decide(p, members, 2, model.ApprovalApproved, now)
	require.NoError(t, err)
	require.Equal(t, model.PlanApproved, out.Status)
	require.True(t, out.Materialize)
	require.NotNil(t, p.DecidedAt)
}

func TestFirstRejectionWins(t *testing.T) {
	for _, first := range []uint{1, 2} {
		members := []uint{1, 2}
		p := newPlan(members...)

		out, err := Decide(p, members, first, model.ApprovalRejected, now)
		require.NoError(t, err)
		require.Equal(t, model.PlanRejected, out.Status)
		require.False(t, out.Materialize)

		other := members[0]
		if other == first {
			other = members[1]
		}
		_, err = Decide(p, members, other, model.ApprovalApproved, now)
		require.ErrorIs(t, err, ErrPlanClosed)
		require.Equal(t, model.PlanRejected, p.Status)
	}
}

func TestRejectAfterApprovalRejects(t *testing.T) {
	members := []uint{1, 2}
	p := newPlan(members...)
	_, err := Decide(p, members, 1, model.ApprovalApproved, now)
	require.NoError(t, err)

	out, err := Decide(p, members, 2, model.ApprovalRejected, now)
	require.NoError(t, err)
	require.Equal(t, model.PlanRejected, out.Status)
}

func TestApprovedIffAllApproved(t *testing.T) {
	members := []uint{1, 2}
	statuses := []model.ApprovalStatus{model.ApprovalPending, model.ApprovalApproved, model.ApprovalRejected}
	for _, a := range statuses {
		for _, b := range statuses {
			approvals := []model.WeeklyPlanApproval{{MemberID: 1, Status: a}, {MemberID: 2, Status: b}}
			got := Evaluate(model.PlanPendingApproval, approvals, members)
			switch {
			case a == model.ApprovalRejected || b == model.ApprovalRejected:
				require.Equal(t, model.PlanRejected, got)
			case a == model.ApprovalApproved && b == model.ApprovalApproved:
				require.Equal(t, model.PlanApproved, got)
			default:
				require.Equal(t, model.PlanPendingApproval, got)
			}
		}
	}
}

func TestMissingApprovalRowIsNotApproval(t *testing.T) {
	members := []uint{1, 2}
	got := Evaluate(model.PlanDraft, []model.WeeklyPlanApproval{{MemberID: 1, Status: model.ApprovalApproved}}, members)
	require.Equal(t, model.PlanPendingApproval, got)
}

func TestDecideRejectsStrangersAndBadVotes(t *testing.T) {
	members := []uint{1, 2}
	p := newPlan(members...)

	_, err := Decide(p, members, 3, model.ApprovalApproved, now)
	require.ErrorIs(t, err, ErrNotMember)

	_, err = Decide(p, members, 1, model.ApprovalPending, now)
	require.ErrorIs(t, err, ErrInvalidDecision)
	require.Equal(t, model.PlanDraft, p.Status)
}

func TestSubmitAndExpire(t *testing.T) {
	p := newPlan(1)
	require.NoError(t, Submit(p))
	require.Equal(t, model.PlanPendingApproval, p.Status)
	require.NoError(t, Submit(p))

	require.False(t, Expire(p, p.ExpiresAt))
	require.True(t, Expire(p, p.ExpiresAt.Add(time.Second)))
	require.Equal(t, model.PlanExpired, p.Status)
	require.ErrorIs(t, Submit(p), ErrPlanClosed)
	require.False(t, Expire(p, p.ExpiresAt.Add(time.Hour)))
}

func TestResetApprovalsKeepsEditorVote(t *testing.T) {
	members := []uint{1, 2, 3}
	p := newPlan(members...)
	for _, m := range []uint{1, 2} {
		_, err := Decide(p, members, m, model.ApprovalApproved, now)
		require.NoError(t, err)
	}

	reset := ResetApprovals(p, 2)
	require.Equal(t, []uint{1}, reset)
	require.Equal(t, model.ApprovalPending, p.Approvals[0].Status)
	require.Equal(t, model.ApprovalApproved, p.Approvals[1].Status)
}

func TestExpiresAtIsDayAfterWeekEnd(t *testing.T) {
	require.Equal(t, time.Date(2025, time.January, 14, 0, 0, 0, 0, time.UTC), ExpiresAt(now))
}
