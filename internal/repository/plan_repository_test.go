package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"family-planner/internal/model"
	"family-planner/internal/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var monday = time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)

func seedPlan(t *testing.T, repo *PlanRepository) *model.WeeklyPlan {
	t.Helper()
	start := monday.Add(18 * time.Hour)
	plan := &model.WeeklyPlan{
		FamilyID:  1,
		WeekStart: model.DateKey(monday),
		Status:    model.PlanDraft,
		ExpiresAt: monday.AddDate(0, 0, 8),
		Items: []model.WeeklyPlanItem{
			{TaskID: 1, AssigneeID: 10, Day: model.DateKey(start), StartAt: start, EndAt: start.Add(30 * time.Minute)},
		},
		Approvals: []model.WeeklyPlanApproval{
			{MemberID: 10, Status: model.ApprovalPending},
			{MemberID: 20, Status: model.ApprovalPending},
		},
	}
	require.NoError(t, repo.Create(context.Background(), plan))
	return plan
}

func TestPlanCreateAndLoad(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)
	plan := seedPlan(t, repo)

	got, err := repo.FindByID(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.Len(t, got.Approvals, 2)
	require.Equal(t, 1, got.Items[0].Version)

	open, err := repo.FindOpen(context.Background(), 1, model.DateKey(monday))
	require.NoError(t, err)
	require.NotNil(t, open)
	require.Equal(t, plan.ID, open.ID)
}

func TestUpdateItemBumpsVersionOnce(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)
	plan := seedPlan(t, repo)
	item := plan.Items[0]

	start := item.StartAt.Add(time.Hour)
	now := monday.Add(time.Hour)
	updated, err := repo.UpdateItem(context.Background(), item.ID, 1, ItemChanges{
		AssigneeID: 20, Day: item.Day, StartAt: start, EndAt: start.Add(30 * time.Minute),
	}, 20, now)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
	require.Equal(t, uint(20), updated.AssigneeID)
	require.NotNil(t, updated.LastEditedByID)
	require.Equal(t, uint(20), *updated.LastEditedByID)

	_, err = repo.UpdateItem(context.Background(), item.ID, 1, ItemChanges{AssigneeID: 10, StartAt: start, EndAt: start.Add(time.Hour)}, 10, now)
	require.ErrorIs(t, err, ErrVersionConflict)

	stored, err := repo.FindItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.Version)
	require.Equal(t, uint(20), stored.AssigneeID)
}

func TestUpdateItemMissing(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)

	_, err := repo.UpdateItem(context.Background(), 999, 1, ItemChanges{StartAt: monday, EndAt: monday.Add(time.Hour)}, 1, monday)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestConcurrentEditsOneWinner(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)
	plan := seedPlan(t, repo)
	item := plan.Items[0]

	const editors = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func(editor uint) {
			defer wg.Done()
			start := item.StartAt.Add(time.Duration(editor) * time.Minute)
			_, err := repo.UpdateItem(context.Background(), item.ID, 1, ItemChanges{
				AssigneeID: 10, Day: item.Day, StartAt: start, EndAt: start.Add(30 * time.Minute),
			}, editor, monday)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(uint(i + 1))
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, editors-1, conflicts)
	stored, err := repo.FindItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.Version)
}

func TestDeleteItemChecksVersion(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)
	plan := seedPlan(t, repo)
	item := plan.Items[0]

	require.ErrorIs(t, repo.DeleteItem(context.Background(), item.ID, 7), ErrVersionConflict)
	require.NoError(t, repo.DeleteItem(context.Background(), item.ID, 1))
	require.ErrorIs(t, repo.DeleteItem(context.Background(), item.ID, 1), gorm.ErrRecordNotFound)
}

func TestAddItemAppends(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)
	plan := seedPlan(t, repo)

	start := monday.Add(20 * time.Hour)
	item := &model.WeeklyPlanItem{PlanID: plan.ID, TaskID: 2, AssigneeID: 20, Day: model.DateKey(start), StartAt: start, EndAt: start.Add(time.Hour)}
	require.NoError(t, repo.AddItem(context.Background(), item))
	require.Equal(t, 1, item.Position)
	require.Equal(t, 1, item.Version)
}

func TestStatusUpdateIsConditional(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)
	plan := seedPlan(t, repo)
	ctx := context.Background()

	decided := monday.Add(time.Hour)
	require.NoError(t, repo.UpdateStatus(ctx, plan.ID, mutableStatuses(), model.PlanRejected, &decided))
	require.ErrorIs(t, repo.UpdateStatus(ctx, plan.ID, mutableStatuses(), model.PlanApproved, &decided), ErrStaleStatus)

	open, err := repo.FindOpen(ctx, 1, model.DateKey(monday))
	require.NoError(t, err)
	require.Nil(t, open)
}

func TestSaveApprovalUpserts(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)
	plan := seedPlan(t, repo)
	ctx := context.Background()

	at := monday.Add(time.Hour)
	require.NoError(t, repo.SaveApproval(ctx, &model.WeeklyPlanApproval{PlanID: plan.ID, MemberID: 10, Status: model.ApprovalApproved, DecidedAt: &at}))

	got, err := repo.FindByID(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, got.Approvals, 2)
	require.Equal(t, model.ApprovalApproved, got.Approvals[0].Status)
	require.Equal(t, model.ApprovalPending, got.Approvals[1].Status)
}

func TestListExpirableAndUnmaterialized(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	repo := NewPlanRepository(db)
	plan := seedPlan(t, repo)
	ctx := context.Background()

	ids, err := repo.ListExpirable(ctx, plan.ExpiresAt.Add(-time.Minute))
	require.NoError(t, err)
	require.Empty(t, ids)
	ids, err = repo.ListExpirable(ctx, plan.ExpiresAt.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, []uint{plan.ID}, ids)

	require.NoError(t, repo.UpdateStatus(ctx, plan.ID, mutableStatuses(), model.PlanApproved, nil))
	ids, err = repo.ListUnmaterialized(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint{plan.ID}, ids)

	instanceID := uint(5)
	require.NoError(t, repo.MarkMaterialized(ctx, plan.Items[0].ID, &instanceID, ""))
	ids, err = repo.ListUnmaterialized(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}
