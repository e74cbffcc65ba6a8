package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"family-planner/internal/calendar"
	"family-planner/internal/model"
	"family-planner/internal/plan"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
)

// PlanService runs the weekly plan lifecycle: votes, item edits, expiry
// and materialization into instances. Every state change happens in one
// transaction around a locked plan row.
type PlanService struct {
	plans       *repository.PlanRepository
	tasks       *repository.TaskRepository
	instances   *repository.InstanceRepository
	tx          *repository.Transactor
	families    *FamilyService
	validator   *schedule.Validator
	capacity    capacity
	sync        calendarSync
	resetOnEdit bool
}

func NewPlanService(
	plans *repository.PlanRepository,
	tasks *repository.TaskRepository,
	instances *repository.InstanceRepository,
	tx *repository.Transactor,
	families *FamilyService,
	validator *schedule.Validator,
	mirror *calendar.Mirror,
	resetOnEdit bool,
) *PlanService {
	return &PlanService{
		plans:       plans,
		tasks:       tasks,
		instances:   instances,
		tx:          tx,
		families:    families,
		validator:   validator,
		capacity:    capacity{instances: instances},
		sync:        calendarSync{mirror: mirror, instances: instances},
		resetOnEdit: resetOnEdit,
	}
}

// DecideResult is the plan after a vote.
type DecideResult struct {
	Plan      *model.WeeklyPlan
	Outcome   plan.Outcome
	Instances []model.ScheduledTaskInstance
	Warnings  []string
}

// ItemEdit lists the fields of a plan item a member may change. Nil
// fields keep their value.
type ItemEdit struct {
	AssigneeID *uint      `json:"assignee_id"`
	Start      *time.Time `json:"start"`
	End        *time.Time `json:"end"`
	Reasoning  *string    `json:"reasoning"`
}

// Create stores a draft plan for the actor's family from a batch of
// placements. Placements that fail validation or exceed what is still
// achievable are reported and left out.
func (s *PlanService) Create(ctx context.Context, actorID uint, weekStart time.Time, batch []schedule.Placement, reasoning string, now time.Time) (*model.WeeklyPlan, []schedule.Rejection, error) {
	actor, err := s.families.Actor(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	if actor.FamilyID == nil {
		return nil, nil, fmt.Errorf("user %d: %w", actorID, ErrNoFamily)
	}
	loc, err := s.families.Location(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	weekStart = model.WeekStart(weekStart.In(loc))

	existing, err := s.plans.FindOpen(ctx, *actor.FamilyID, model.DateKey(weekStart))
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("plan %d for week %s: %w", existing.ID, existing.WeekStart, ErrPlanExists)
	}

	kept, rejected, err := s.admit(ctx, actor, weekStart, batch, now)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.create(ctx, *actor.FamilyID, weekStart, actorID, actor.MemberIDs, kept, reasoning)
	if err != nil {
		return nil, nil, err
	}
	return p, rejected, nil
}

// admit runs the validator and the achievable cap over a batch destined
// for the week of weekStart.
func (s *PlanService) admit(ctx context.Context, actor schedule.Actor, weekStart time.Time, batch []schedule.Placement, now time.Time) ([]schedule.Placement, []schedule.Rejection, error) {
	batch = s.families.Localize(ctx, batch)
	tasks, err := s.tasks.FindMany(ctx, taskIDs(batch))
	if err != nil {
		return nil, nil, err
	}
	verdict := s.validator.Validate(tasks, actor, batch)
	rejected := verdict.Rejected

	var inWeek []schedule.Placement
	for _, p := range verdict.Accepted {
		if err := inPlanWeek(weekStart, p); err != nil {
			rejected = append(rejected, schedule.Rejection{Placement: p, Reason: schedule.ReasonInvalidInterval, Detail: err.Error()})
			continue
		}
		inWeek = append(inWeek, p)
	}

	kept, capped, err := s.capacity.capBatch(ctx, tasks, inWeek, now)
	if err != nil {
		return nil, nil, err
	}
	return kept, append(rejected, capped...), nil
}

func (s *PlanService) create(ctx context.Context, familyID uint, weekStart time.Time, createdBy uint, members []uint, batch []schedule.Placement, reasoning string) (*model.WeeklyPlan, error) {
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Start.Before(batch[j].Start) })

	p := model.WeeklyPlan{
		FamilyID:    familyID,
		WeekStart:   model.DateKey(weekStart),
		Status:      model.PlanDraft,
		ExpiresAt:   plan.ExpiresAt(weekStart),
		CreatedByID: createdBy,
		Reasoning:   reasoning,
	}
	for i, pl := range batch {
		p.Items = append(p.Items, model.WeeklyPlanItem{
			Position:   i,
			TaskID:     pl.TaskID,
			AssigneeID: pl.AssigneeID,
			Day:        pl.Day(),
			StartAt:    pl.Start,
			EndAt:      pl.End,
			Reasoning:  pl.Reasoning,
			Version:    1,
		})
	}
	for _, m := range members {
		p.Approvals = append(p.Approvals, model.WeeklyPlanApproval{MemberID: m, Status: model.ApprovalPending})
	}

	if err := s.plans.Create(ctx, &p); err != nil {
		return nil, err
	}
	zap.L().Info("[Plan] draft created",
		zap.Uint("plan_id", p.ID), zap.Uint("family_id", familyID),
		zap.String("week_start", p.WeekStart), zap.Int("items", len(p.Items)))
	return &p, nil
}

// Get returns a plan the actor's family owns.
func (s *PlanService) Get(ctx context.Context, actorID, planID uint) (*model.WeeklyPlan, error) {
	p, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberOf(ctx, p, actorID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListOpen returns the draft and pending plans of the actor's family.
func (s *PlanService) ListOpen(ctx context.Context, actorID uint) ([]model.WeeklyPlan, error) {
	family, err := s.families.FamilyOf(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.plans.ListByFamily(ctx, family.ID, model.PlanDraft, model.PlanPendingApproval)
}

// Submit moves a draft to pending_approval.
func (s *PlanService) Submit(ctx context.Context, actorID, planID uint) (*model.WeeklyPlan, error) {
	current, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberOf(ctx, current, actorID); err != nil {
		return nil, err
	}

	var out *model.WeeklyPlan
	err = s.tx.Do(ctx, func(tx *gorm.DB) error {
		plans := s.plans.WithTx(tx)
		p, err := plans.FindForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		previous := p.Status
		if err := plan.Submit(p); err != nil {
			return err
		}
		if p.Status != previous {
			if err := plans.UpdateStatus(ctx, p.ID, []model.PlanStatus{previous}, p.Status, nil); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Decide records the actor's approve or reject vote. The vote that
// completes unanimous approval also turns every item into an instance,
// each inside its own savepoint; items that fail are marked and retried
// later, the plan is approved regardless. Calendar mirroring happens after
// commit.
func (s *PlanService) Decide(ctx context.Context, actorID, planID uint, decision model.ApprovalStatus, now time.Time) (*DecideResult, error) {
	current, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	members, err := s.members(ctx, current.FamilyID)
	if err != nil {
		return nil, err
	}

	res := &DecideResult{}
	var tasks map[uint]model.Task
	err = s.tx.Do(ctx, func(tx *gorm.DB) error {
		plans := s.plans.WithTx(tx)
		p, err := plans.FindForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		out, err := plan.Decide(p, members, actorID, decision, now)
		if err != nil {
			return err
		}
		if err := plans.SaveApproval(ctx, &out.Approval); err != nil {
			return err
		}
		if out.Status != out.Previous {
			if err := plans.UpdateStatus(ctx, p.ID, []model.PlanStatus{out.Previous}, out.Status, p.DecidedAt); err != nil {
				return err
			}
		}
		if out.Materialize {
			res.Instances, tasks, err = s.materialize(ctx, tx, p)
			if err != nil {
				return err
			}
		}
		res.Plan, res.Outcome = p, out
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("[Plan] vote recorded",
		zap.Uint("plan_id", planID), zap.Uint("member_id", actorID),
		zap.String("decision", string(decision)), zap.String("status", string(res.Outcome.Status)))
	if len(res.Instances) > 0 {
		res.Warnings = s.sync.publish(ctx, res.Instances, tasks)
	}
	return res, nil
}

// materialize creates an instance for every item of p that has none yet.
// It must run inside tx.
func (s *PlanService) materialize(ctx context.Context, tx *gorm.DB, p *model.WeeklyPlan) ([]model.ScheduledTaskInstance, map[uint]model.Task, error) {
	plans := s.plans.WithTx(tx)
	instances := s.instances.WithTx(tx)

	ids := make([]uint, 0, len(p.Items))
	for _, item := range p.Items {
		ids = append(ids, item.TaskID)
	}
	tasks, err := s.tasks.WithTx(tx).FindMany(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	var created []model.ScheduledTaskInstance
	for i := range p.Items {
		item := &p.Items[i]
		if item.InstanceID != nil {
			continue
		}
		savepoint := fmt.Sprintf("plan_item_%d", item.ID)
		if err := tx.SavePoint(savepoint).Error; err != nil {
			return nil, nil, fmt.Errorf("savepoint %s: %w", savepoint, err)
		}

		inst, err := materializeItem(ctx, instances, tasks, *item)
		if err != nil {
			if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
				return nil, nil, fmt.Errorf("rollback to %s: %w", savepoint, rbErr)
			}
			zap.L().Warn("[Plan] item not materialized",
				zap.Uint("plan_id", p.ID), zap.Uint("item_id", item.ID), zap.Error(err))
			item.MaterializeError = err.Error()
			if err := plans.MarkMaterialized(ctx, item.ID, nil, item.MaterializeError); err != nil {
				return nil, nil, err
			}
			continue
		}

		if err := plans.MarkMaterialized(ctx, item.ID, &inst.ID, ""); err != nil {
			return nil, nil, err
		}
		item.InstanceID = &inst.ID
		item.MaterializeError = ""
		created = append(created, *inst)
	}
	return created, tasks, nil
}

func materializeItem(ctx context.Context, instances *repository.InstanceRepository, tasks map[uint]model.Task, item model.WeeklyPlanItem) (*model.ScheduledTaskInstance, error) {
	if _, ok := tasks[item.TaskID]; !ok {
		return nil, fmt.Errorf("task %d no longer exists", item.TaskID)
	}
	itemID := item.ID
	inst := model.ScheduledTaskInstance{
		TaskID:     item.TaskID,
		AssigneeID: item.AssigneeID,
		Day:        item.Day,
		StartAt:    item.StartAt,
		EndAt:      item.EndAt,
		Reasoning:  item.Reasoning,
		PlanItemID: &itemID,
	}
	if err := instances.Create(ctx, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// RetryMaterialization retries the items of an approved plan that have no
// instance yet. Running it twice creates nothing new.
func (s *PlanService) RetryMaterialization(ctx context.Context, planID uint) ([]model.ScheduledTaskInstance, []string, error) {
	var created []model.ScheduledTaskInstance
	var tasks map[uint]model.Task
	err := s.tx.Do(ctx, func(tx *gorm.DB) error {
		p, err := s.plans.WithTx(tx).FindForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		if p.Status != model.PlanApproved {
			return fmt.Errorf("plan %d is %s: %w", p.ID, p.Status, ErrInvalidTransition)
		}
		created, tasks, err = s.materialize(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return created, s.sync.publish(ctx, created, tasks), nil
}

// RetryAllMaterializations sweeps every approved plan with missing
// instances and returns how many instances were created.
func (s *PlanService) RetryAllMaterializations(ctx context.Context) (int, error) {
	ids, err := s.plans.ListUnmaterialized(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		created, _, err := s.RetryMaterialization(ctx, id)
		if err != nil {
			zap.L().Warn("[Plan] materialization retry failed", zap.Uint("plan_id", id), zap.Error(err))
			continue
		}
		total += len(created)
	}
	return total, nil
}

// ExpireStale closes every open plan past its expiry and returns how many
// were closed. A plan decided concurrently is left alone.
func (s *PlanService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.plans.ListExpirable(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		err := s.tx.Do(ctx, func(tx *gorm.DB) error {
			plans := s.plans.WithTx(tx)
			p, err := plans.FindForUpdate(ctx, id)
			if err != nil {
				return err
			}
			previous := p.Status
			if !plan.Expire(p, now) {
				return nil
			}
			if err := plans.UpdateStatus(ctx, p.ID, []model.PlanStatus{previous}, p.Status, nil); err != nil {
				return err
			}
			expired++
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrStaleStatus):
			zap.L().Debug("[Plan] plan decided before expiry", zap.Uint("plan_id", id))
		default:
			return expired, fmt.Errorf("expire plan %d: %w", id, err)
		}
	}
	if expired > 0 {
		zap.L().Info("[Plan] expired stale plans", zap.Int("count", expired))
	}
	return expired, nil
}

// AddItem appends a validated placement to an open plan.
func (s *PlanService) AddItem(ctx context.Context, actorID, planID uint, p schedule.Placement, now time.Time) (*model.WeeklyPlanItem, error) {
	current, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	placement, err := s.checkPlacement(ctx, current, actorID, p)
	if err != nil {
		return nil, err
	}

	item := model.WeeklyPlanItem{
		PlanID:         planID,
		TaskID:         placement.TaskID,
		AssigneeID:     placement.AssigneeID,
		Day:            placement.Day(),
		StartAt:        placement.Start,
		EndAt:          placement.End,
		Reasoning:      placement.Reasoning,
		LastEditedByID: &actorID,
		LastEditedAt:   &now,
	}
	err = s.tx.Do(ctx, func(tx *gorm.DB) error {
		plans := s.plans.WithTx(tx)
		locked, err := s.lockOpen(ctx, plans, planID)
		if err != nil {
			return err
		}
		if err := s.fitsCapacity(ctx, tx, locked, placement, 0, now); err != nil {
			return err
		}
		if err := plans.AddItem(ctx, &item); err != nil {
			return err
		}
		return s.resetApprovals(ctx, plans, locked, actorID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// EditItem changes an item only if nobody else changed it since the
// editor read expectedVersion. The losing concurrent editor gets
// repository.ErrVersionConflict and must reload.
func (s *PlanService) EditItem(ctx context.Context, actorID, itemID uint, expectedVersion int, edit ItemEdit, now time.Time) (*model.WeeklyPlanItem, error) {
	item, err := s.plans.FindItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	current, err := s.plans.FindByID(ctx, item.PlanID)
	if err != nil {
		return nil, err
	}

	merged := schedule.Placement{
		TaskID:     item.TaskID,
		AssigneeID: item.AssigneeID,
		Start:      item.StartAt,
		End:        item.EndAt,
		Reasoning:  item.Reasoning,
	}
	if edit.AssigneeID != nil {
		merged.AssigneeID = *edit.AssigneeID
	}
	if edit.Start != nil {
		merged.Start = *edit.Start
	}
	if edit.End != nil {
		merged.End = *edit.End
	}
	placement, err := s.checkPlacement(ctx, current, actorID, merged)
	if err != nil {
		return nil, err
	}

	var updated *model.WeeklyPlanItem
	err = s.tx.Do(ctx, func(tx *gorm.DB) error {
		plans := s.plans.WithTx(tx)
		locked, err := s.lockOpen(ctx, plans, item.PlanID)
		if err != nil {
			return err
		}
		if err := s.fitsCapacity(ctx, tx, locked, placement, itemID, now); err != nil {
			return err
		}
		updated, err = plans.UpdateItem(ctx, itemID, expectedVersion, repository.ItemChanges{
			AssigneeID: placement.AssigneeID,
			Day:        placement.Day(),
			StartAt:    placement.Start,
			EndAt:      placement.End,
			Reasoning:  edit.Reasoning,
		}, actorID, now)
		if err != nil {
			return err
		}
		return s.resetApprovals(ctx, plans, locked, actorID)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("[Plan] item edited",
		zap.Uint("item_id", itemID), zap.Uint("editor_id", actorID), zap.Int("version", updated.Version))
	return updated, nil
}

// RemoveItem deletes an item under the same version check as EditItem.
func (s *PlanService) RemoveItem(ctx context.Context, actorID, itemID uint, expectedVersion int) error {
	item, err := s.plans.FindItem(ctx, itemID)
	if err != nil {
		return err
	}
	current, err := s.plans.FindByID(ctx, item.PlanID)
	if err != nil {
		return err
	}
	if _, err := s.memberOf(ctx, current, actorID); err != nil {
		return err
	}
	return s.tx.Do(ctx, func(tx *gorm.DB) error {
		plans := s.plans.WithTx(tx)
		locked, err := s.lockOpen(ctx, plans, item.PlanID)
		if err != nil {
			return err
		}
		if err := plans.DeleteItem(ctx, itemID, expectedVersion); err != nil {
			return err
		}
		return s.resetApprovals(ctx, plans, locked, actorID)
	})
}

// checkPlacement gates a single item change: the actor must belong to the
// plan's family and the placement must pass the validator and stay inside
// the plan's week.
func (s *PlanService) checkPlacement(ctx context.Context, p *model.WeeklyPlan, actorID uint, placement schedule.Placement) (schedule.Placement, error) {
	members, err := s.memberOf(ctx, p, actorID)
	if err != nil {
		return placement, err
	}
	if !p.Status.Mutable() {
		return placement, fmt.Errorf("plan %d is %s: %w", p.ID, p.Status, plan.ErrPlanClosed)
	}
	placement = s.families.Localize(ctx, []schedule.Placement{placement})[0]

	var task *model.Task
	t, err := s.tasks.FindByID(ctx, placement.TaskID)
	switch {
	case err == nil:
		task = t
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return placement, err
	}

	familyID := p.FamilyID
	actor := schedule.Actor{UserID: actorID, FamilyID: &familyID, MemberIDs: members}
	if rej := s.validator.Check(task, actor, placement); rej != nil {
		return placement, &schedule.RejectionError{Rejection: *rej}
	}

	weekStart, err := model.ParseDate(p.WeekStart, placement.Start.Location())
	if err != nil {
		return placement, err
	}
	if err := inPlanWeek(weekStart, placement); err != nil {
		return placement, &schedule.RejectionError{Rejection: schedule.Rejection{
			Placement: placement, Reason: schedule.ReasonInvalidInterval, Detail: err.Error(),
		}}
	}
	return placement, nil
}

// fitsCapacity checks that placement still fits next to the locked plan's
// other items for the same task. The item being replaced, if any, is left
// out. Runs inside tx so concurrent changes to the plan serialize on it.
func (s *PlanService) fitsCapacity(ctx context.Context, tx *gorm.DB, p *model.WeeklyPlan, placement schedule.Placement, replacing uint, now time.Time) error {
	task, err := s.tasks.WithTx(tx).FindByID(ctx, placement.TaskID)
	if err != nil {
		return err
	}
	loc := placement.Start.Location()
	var batch []schedule.Placement
	for _, item := range p.Items {
		if item.TaskID != placement.TaskID || (replacing != 0 && item.ID == replacing) {
			continue
		}
		batch = append(batch, schedule.Placement{
			TaskID:     item.TaskID,
			AssigneeID: item.AssigneeID,
			Start:      item.StartAt.In(loc),
			End:        item.EndAt.In(loc),
		})
	}
	batch = append(batch, placement)

	capped := capacity{instances: s.capacity.instances.WithTx(tx)}
	kept, rejected, err := capped.capBatch(ctx, map[uint]model.Task{task.ID: *task}, batch, now)
	if err != nil {
		return err
	}
	if n := len(kept); n > 0 && kept[n-1] == placement {
		return nil
	}
	for _, r := range rejected {
		if r.Placement == placement {
			return &schedule.RejectionError{Rejection: r}
		}
	}
	return &schedule.RejectionError{Rejection: schedule.Rejection{
		Placement: placement, Reason: schedule.ReasonNotAchievable,
		Detail: fmt.Sprintf("task %d has no room left in week %s", task.ID, p.WeekStart),
	}}
}

func (s *PlanService) lockOpen(ctx context.Context, plans *repository.PlanRepository, planID uint) (*model.WeeklyPlan, error) {
	p, err := plans.FindForUpdate(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !p.Status.Mutable() {
		return nil, fmt.Errorf("plan %d is %s: %w", p.ID, p.Status, plan.ErrPlanClosed)
	}
	return p, nil
}

// resetApprovals puts other members' approvals back to pending after an
// item change, when configured to.
func (s *PlanService) resetApprovals(ctx context.Context, plans *repository.PlanRepository, p *model.WeeklyPlan, editor uint) error {
	if !s.resetOnEdit {
		return nil
	}
	reset := plan.ResetApprovals(p, editor)
	for i := range p.Approvals {
		if !containsID(reset, p.Approvals[i].MemberID) {
			continue
		}
		if err := plans.SaveApproval(ctx, &p.Approvals[i]); err != nil {
			return err
		}
	}
	if len(reset) > 0 {
		zap.L().Info("[Plan] approvals reset after edit", zap.Uint("plan_id", p.ID), zap.Int("members", len(reset)))
	}
	return nil
}

func (s *PlanService) members(ctx context.Context, familyID uint) ([]uint, error) {
	family, err := s.families.Family(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("load family %d: %w", familyID, err)
	}
	return family.MemberIDs(), nil
}

func (s *PlanService) memberOf(ctx context.Context, p *model.WeeklyPlan, userID uint) ([]uint, error) {
	members, err := s.members(ctx, p.FamilyID)
	if err != nil {
		return nil, err
	}
	if !containsID(members, userID) {
		return nil, fmt.Errorf("user %d on plan %d: %w", userID, p.ID, plan.ErrNotMember)
	}
	return members, nil
}

// inPlanWeek checks that p starts within the seven days from weekStart.
func inPlanWeek(weekStart time.Time, p schedule.Placement) error {
	first := model.DateKey(weekStart)
	last := model.DateKey(weekStart.AddDate(0, 0, 6))
	if day := p.Day(); day < first || day > last {
		return fmt.Errorf("%s is outside the plan week %s..%s", day, first, last)
	}
	return nil
}
