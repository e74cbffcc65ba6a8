package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"family-planner/internal/availability"
	"family-planner/internal/calendar"
	"family-planner/internal/model"
	"family-planner/internal/planner"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
)

// DaySlots lists the free time and ranked start times of one date.
type DaySlots struct {
	Date       string               `json:"date"`
	Free       []schedule.Interval  `json:"free"`
	Candidates []schedule.Candidate `json:"candidates"`
}

// SlotReport answers "where could this task still go".
type SlotReport struct {
	TaskID     uint                   `json:"task_id"`
	AssigneeID uint                   `json:"assignee_id"`
	Achievable schedule.Achievability `json:"achievable"`
	Days       []DaySlots             `json:"days"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// CommitResult reports what a batch turned into.
type CommitResult struct {
	Instances []model.ScheduledTaskInstance `json:"instances"`
	Rejected  []schedule.Rejection          `json:"rejected"`
	Warnings  []string                      `json:"warnings,omitempty"`
}

// GeneratedPlan is a weekly plan draft together with what was left out.
type GeneratedPlan struct {
	Plan     *model.WeeklyPlan    `json:"plan"`
	Rejected []schedule.Rejection `json:"rejected"`
	Warnings []string             `json:"warnings,omitempty"`
	// Source is "planner" or "search".
	Source string `json:"source"`
	// Existing is set when an open plan for the week was returned as is.
	Existing bool `json:"existing"`
}

// PlanningDeps wires a PlanningService. Planner and Mirror may be nil.
type PlanningDeps struct {
	Tasks     *repository.TaskRepository
	Instances *repository.InstanceRepository
	Plans     *repository.PlanRepository
	Tx        *repository.Transactor
	Families  *FamilyService
	PlanSvc   *PlanService
	Resolver  *availability.Resolver
	Validator *schedule.Validator
	Planner   planner.Planner
	Mirror    *calendar.Mirror
}

// PlanningService puts tasks into free time. Whatever proposes the
// placements, a person, the slot search or the planner service, the batch
// passes the same validator and the same achievable cap before it is
// stored.
type PlanningService struct {
	tasks     *repository.TaskRepository
	instances *repository.InstanceRepository
	plans     *repository.PlanRepository
	tx        *repository.Transactor
	families  *FamilyService
	planSvc   *PlanService
	resolver  *availability.Resolver
	validator *schedule.Validator
	planner   planner.Planner
	capacity  capacity
	sync      calendarSync
}

func NewPlanningService(d PlanningDeps) *PlanningService {
	return &PlanningService{
		tasks:     d.Tasks,
		instances: d.Instances,
		plans:     d.Plans,
		tx:        d.Tx,
		families:  d.Families,
		planSvc:   d.PlanSvc,
		resolver:  d.Resolver,
		validator: d.Validator,
		planner:   d.Planner,
		capacity:  capacity{instances: d.Instances},
		sync:      calendarSync{mirror: d.Mirror, instances: d.Instances},
	}
}

// FindSlots lists, for every date in from..to on which the task still
// needs and can get a placement, the assignee's free intervals and the
// ranked candidate starts.
func (s *PlanningService) FindSlots(ctx context.Context, actorID, taskID uint, from, to, now time.Time) (SlotReport, error) {
	report, _, _, err := s.slots(ctx, actorID, taskID, from, to, now)
	return report, err
}

// QuickSchedule places as many instances of one task as are still
// achievable in from..to, best candidates first, and commits them.
func (s *PlanningService) QuickSchedule(ctx context.Context, actorID, taskID uint, from, to, now time.Time) (CommitResult, error) {
	report, task, perDay, err := s.slots(ctx, actorID, taskID, from, to, now)
	if err != nil {
		return CommitResult{}, err
	}
	picked := pick(task, report.AssigneeID, report.Days, report.Achievable, perDay)
	if len(picked) == 0 {
		res := CommitResult{Warnings: report.Warnings}
		if report.Achievable.Required > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("no free slot for task %d in range", task.ID))
		}
		return res, nil
	}
	res, err := s.CommitPlacements(ctx, actorID, picked, now)
	if err != nil {
		return CommitResult{}, err
	}
	res.Warnings = append(report.Warnings, res.Warnings...)
	return res, nil
}

// CommitPlacements is the commit path for any batch: it validates every
// placement, caps each task at what is still achievable, stores the rest
// as instances in one transaction and mirrors them best effort.
func (s *PlanningService) CommitPlacements(ctx context.Context, actorID uint, batch []schedule.Placement, now time.Time) (CommitResult, error) {
	actor, err := s.families.Actor(ctx, actorID)
	if err != nil {
		return CommitResult{}, err
	}
	batch = s.families.Localize(ctx, batch)
	tasks, err := s.tasks.FindMany(ctx, taskIDs(batch))
	if err != nil {
		return CommitResult{}, err
	}

	verdict := s.validator.Validate(tasks, actor, batch)
	kept, capped, err := s.capacity.capBatch(ctx, tasks, verdict.Accepted, now)
	if err != nil {
		return CommitResult{}, err
	}
	res := CommitResult{Rejected: append(verdict.Rejected, capped...)}
	if len(kept) == 0 {
		return res, nil
	}

	err = s.tx.Do(ctx, func(tx *gorm.DB) error {
		instances := s.instances.WithTx(tx)
		for _, p := range kept {
			inst := model.ScheduledTaskInstance{
				TaskID:     p.TaskID,
				AssigneeID: p.AssigneeID,
				Day:        p.Day(),
				StartAt:    p.Start,
				EndAt:      p.End,
				Reasoning:  p.Reasoning,
			}
			if err := instances.Create(ctx, &inst); err != nil {
				return err
			}
			res.Instances = append(res.Instances, inst)
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit placements: %w", err)
	}

	zap.L().Info("[Planning] placements committed",
		zap.Uint("actor_id", actorID), zap.Int("committed", len(res.Instances)), zap.Int("rejected", len(res.Rejected)))
	res.Warnings = s.sync.publish(ctx, res.Instances, tasks)
	return res, nil
}

// GenerateWeeklyPlan drafts the family's plan for the week containing
// weekStart. Proposals come from the planner service when one is
// configured and answers, otherwise from the slot search. An open plan
// for the week is returned unchanged. createdBy is zero for scheduled runs.
func (s *PlanningService) GenerateWeeklyPlan(ctx context.Context, familyID uint, weekStart time.Time, createdBy uint, now time.Time) (*GeneratedPlan, error) {
	users, err := s.families.Members(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: family %d has no members", ErrInvalidInput, familyID)
	}
	members := make([]uint, 0, len(users))
	for _, u := range users {
		members = append(members, u.ID)
	}
	home := users[0]
	if createdBy != 0 {
		if !containsID(members, createdBy) {
			return nil, fmt.Errorf("%w: user %d is not in family %d", ErrForbidden, createdBy, familyID)
		}
		for _, u := range users {
			if u.ID == createdBy {
				home = u
			}
		}
	}
	loc, err := s.families.Location(ctx, home.ID)
	if err != nil {
		return nil, err
	}

	weekStart = model.WeekStart(weekStart.In(loc))
	existing, err := s.plans.FindOpen(ctx, familyID, model.DateKey(weekStart))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &GeneratedPlan{Plan: existing, Existing: true}, nil
	}

	first, last, err := clipRange(weekStart, weekStart.AddDate(0, 0, 6), now, loc)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ListVisible(ctx, members, &familyID)
	if err != nil {
		return nil, err
	}

	out := &GeneratedPlan{}
	busy := make(map[uint]availability.Result, len(members))
	for _, id := range members {
		res, err := s.resolver.Resolve(ctx, id, first, last)
		if err != nil {
			return nil, fmt.Errorf("resolve availability of user %d: %w", id, err)
		}
		committed, err := s.committedBlocks(ctx, id, res.Location, first, last)
		if err != nil {
			return nil, err
		}
		res.Blocks = append(res.Blocks, committed...)
		busy[id] = res
		for _, w := range res.Warnings {
			out.Warnings = append(out.Warnings, fmt.Sprintf("user %d: %s", id, w))
		}
	}

	var proposals []schedule.Placement
	var reasoning string
	usedPlanner := false
	if s.planner != nil {
		req, err := s.plannerRequest(ctx, familyID, weekStart, first, last, now, tasks, users, busy)
		if err != nil {
			return nil, err
		}
		prop, err := s.planner.Propose(ctx, req)
		if err != nil {
			zap.L().Warn("[Planning] planner unavailable, falling back to search", zap.Uint("family_id", familyID), zap.Error(err))
			out.Warnings = append(out.Warnings, fmt.Sprintf("planner unavailable: %v", err))
		} else {
			proposals, reasoning, usedPlanner = prop.Placements, prop.Reasoning, true
		}
	}
	if usedPlanner {
		out.Source = "planner"
	} else {
		out.Source = "search"
		proposals, err = s.search(ctx, tasks, members, busy, first, last, now)
		if err != nil {
			return nil, err
		}
		reasoning = fmt.Sprintf("best free slots for %d tasks", len(tasks))
	}

	actor := schedule.Actor{UserID: home.ID, FamilyID: &familyID, MemberIDs: members}
	kept, rejected, err := s.planSvc.admit(ctx, actor, weekStart, proposals, now)
	if err != nil {
		return nil, err
	}
	out.Rejected = rejected

	out.Plan, err = s.planSvc.create(ctx, familyID, weekStart, createdBy, members, kept, reasoning)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// search proposes placements for every task in priority order, each new
// placement blocking its assignee's time for the tasks after it.
func (s *PlanningService) search(ctx context.Context, tasks []model.Task, members []uint, busy map[uint]availability.Result, first, last, now time.Time) ([]schedule.Placement, error) {
	var out []schedule.Placement
	for _, task := range tasks {
		assignee := task.Assignee()
		res, ok := busy[assignee]
		if !ok || !containsID(members, assignee) {
			continue
		}
		from, to := first.In(res.Location), last.In(res.Location)
		ach, perDay, err := s.capacity.achievable(ctx, task, model.StartOfDay(from), to, now)
		if err != nil {
			zap.L().Warn("[Planning] task skipped", zap.Uint("task_id", task.ID), zap.Error(err))
			continue
		}
		days, err := daySlots(task, res.Window, res.Blocks, ach.Dates, now)
		if err != nil {
			return nil, err
		}
		picked := pick(task, assignee, days, ach, perDay)
		for _, p := range picked {
			res.Blocks = append(res.Blocks, schedule.Interval{Start: p.Start, End: p.End, Kind: schedule.BlockPlaced, Label: task.Title})
		}
		busy[assignee] = res
		out = append(out, picked...)
	}
	return out, nil
}

func (s *PlanningService) plannerRequest(ctx context.Context, familyID uint, weekStart, first, last, now time.Time, tasks []model.Task, users []model.User, busy map[uint]availability.Result) (planner.Request, error) {
	req := planner.Request{
		FamilyID:  familyID,
		WeekStart: model.DateKey(weekStart),
		From:      first,
		To:        last.AddDate(0, 0, 1),
		Now:       now,
	}
	for _, u := range users {
		res := busy[u.ID]
		req.Members = append(req.Members, planner.Member{
			ID:       u.ID,
			Name:     u.Name,
			Timezone: res.Location.String(),
			Busy:     res.Blocks,
		})
	}
	for _, t := range tasks {
		loc := first.Location()
		if res, ok := busy[t.Assignee()]; ok {
			loc = res.Location
		}
		ach, _, err := s.capacity.achievable(ctx, t, model.StartOfDay(first.In(loc)), last.In(loc), now)
		if err != nil {
			zap.L().Warn("[Planning] task left out of planner request", zap.Uint("task_id", t.ID), zap.Error(err))
			continue
		}
		tc := planner.TaskContext{
			ID:              t.ID,
			Title:           t.Title,
			Kind:            t.Kind,
			OwnerID:         t.OwnerID,
			DurationMinutes: t.DurationMinutes,
			Priority:        t.Priority,
			Mode:            t.Mode,
			Weekdays:        t.Weekdays,
			TimeOfDay:       t.TimeOfDay,
			Frequency:       t.Frequency,
			Period:          string(t.Period),
			Remaining:       ach.Count,
		}
		for _, d := range ach.Dates {
			tc.Dates = append(tc.Dates, model.DateKey(d))
		}
		req.Tasks = append(req.Tasks, tc)
	}
	return req, nil
}

// slots resolves the task's assignee and computes the per-day view over
// the part of from..to that has not passed.
func (s *PlanningService) slots(ctx context.Context, actorID, taskID uint, from, to, now time.Time) (SlotReport, model.Task, map[string]int, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return SlotReport{}, model.Task{}, nil, err
	}
	actor, err := s.families.Actor(ctx, actorID)
	if err != nil {
		return SlotReport{}, model.Task{}, nil, err
	}
	if !taskVisible(*task, actor) {
		return SlotReport{}, model.Task{}, nil, fmt.Errorf("task %d for user %d: %w", taskID, actorID, ErrForbidden)
	}

	assignee := task.Assignee()
	loc, err := s.families.Location(ctx, assignee)
	if err != nil {
		return SlotReport{}, model.Task{}, nil, err
	}
	first, last, err := clipRange(from, to, now, loc)
	if err != nil {
		return SlotReport{}, model.Task{}, nil, err
	}

	res, err := s.resolver.Resolve(ctx, assignee, first, last)
	if err != nil {
		return SlotReport{}, model.Task{}, nil, err
	}
	committed, err := s.committedBlocks(ctx, assignee, loc, first, last)
	if err != nil {
		return SlotReport{}, model.Task{}, nil, err
	}
	ach, perDay, err := s.capacity.achievable(ctx, *task, first, last, now)
	if err != nil {
		return SlotReport{}, model.Task{}, nil, err
	}

	days, err := daySlots(*task, res.Window, append(res.Blocks, committed...), ach.Dates, now)
	if err != nil {
		return SlotReport{}, model.Task{}, nil, err
	}
	report := SlotReport{
		TaskID:     task.ID,
		AssigneeID: assignee,
		Achievable: ach,
		Days:       days,
		Warnings:   res.Warnings,
	}
	return report, *task, perDay, nil
}

// committedBlocks turns the user's stored instances into busy intervals.
func (s *PlanningService) committedBlocks(ctx context.Context, userID uint, loc *time.Location, first, last time.Time) ([]schedule.Interval, error) {
	insts, err := s.instances.ListForAssignees(ctx, []uint{userID}, first, model.StartOfDay(last).AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Interval, 0, len(insts))
	for _, inst := range insts {
		out = append(out, schedule.Interval{
			Start: inst.StartAt.In(loc),
			End:   inst.EndAt.In(loc),
			Kind:  schedule.BlockPlaced,
			Label: fmt.Sprintf("instance %d", inst.ID),
		})
	}
	return out, nil
}

// daySlots runs the slot finder on every date in dates.
func daySlots(task model.Task, window schedule.Window, occupied []schedule.Interval, dates []time.Time, now time.Time) ([]DaySlots, error) {
	out := make([]DaySlots, 0, len(dates))
	for _, day := range dates {
		span := schedule.Interval{Start: day, End: day.AddDate(0, 0, 1)}
		var blocks []schedule.Interval
		for _, b := range occupied {
			if schedule.Overlaps(span, b) {
				blocks = append(blocks, b)
			}
		}
		free, err := schedule.FreeIntervals(day, blocks, window, task.Duration())
		if err != nil {
			return nil, err
		}
		out = append(out, DaySlots{
			Date:       model.DateKey(day),
			Free:       free,
			Candidates: schedule.Candidates(task, free, blocks, now),
		})
	}
	return out, nil
}

// pick takes the best candidates across all days while the task still
// has room, honoring the per-day limit and never overlapping itself.
func pick(task model.Task, assignee uint, days []DaySlots, ach schedule.Achievability, perDay map[string]int) []schedule.Placement {
	type option struct {
		day string
		c   schedule.Candidate
	}
	var options []option
	for _, d := range days {
		for _, c := range d.Candidates {
			options = append(options, option{day: d.Date, c: c})
		}
	}
	sort.SliceStable(options, func(i, j int) bool {
		if options[i].c.Score != options[j].c.Score {
			return options[i].c.Score > options[j].c.Score
		}
		return options[i].c.Start.Before(options[j].c.Start)
	})

	limit := dayLimit(task, ach, perDay)
	taken := make(map[string]int)
	var chosen []schedule.Placement
	for _, o := range options {
		if len(chosen) >= ach.Count {
			break
		}
		if taken[o.day] >= limit(o.day) {
			continue
		}
		clash := false
		for _, p := range chosen {
			if schedule.Overlaps(o.c.Interval(), schedule.Interval{Start: p.Start, End: p.End}) {
				clash = true
				break
			}
		}
		if clash {
			continue
		}
		chosen = append(chosen, schedule.Placement{
			TaskID:     task.ID,
			AssigneeID: assignee,
			Start:      o.c.Start,
			End:        o.c.End,
			Reasoning:  fmt.Sprintf("free slot on %s, score %.1f", o.day, o.c.Score),
		})
		taken[o.day]++
	}
	sort.SliceStable(chosen, func(i, j int) bool { return chosen[i].Start.Before(chosen[j].Start) })
	return chosen
}

// clipRange moves from..to into loc and drops the dates that have passed.
func clipRange(from, to, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	first := model.StartOfDay(from.In(loc))
	last := model.StartOfDay(to.In(loc))
	if last.Before(first) {
		return first, last, fmt.Errorf("%w: range %s..%s", schedule.ErrInvalidInterval, model.DateKey(first), model.DateKey(last))
	}
	if today := model.StartOfDay(now.In(loc)); first.Before(today) {
		first = today
	}
	if last.Before(first) {
		return first, last, fmt.Errorf("%w: range ending %s has passed", schedule.ErrInvalidInterval, model.DateKey(last))
	}
	return first, last, nil
}
