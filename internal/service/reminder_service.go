package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"family-planner/internal/model"
	"family-planner/internal/repository"
)

// ReminderService builds human-readable summaries for daily notifications:
// today's instances of the user and the family plans waiting for a vote.
type ReminderService struct {
	taskRepo     *repository.TaskRepository
	instanceRepo *repository.InstanceRepository
	planRepo     *repository.PlanRepository
	families     *FamilyService
}

func NewReminderService(taskRepo *repository.TaskRepository, instanceRepo *repository.InstanceRepository, planRepo *repository.PlanRepository, families *FamilyService) *ReminderService {
	return &ReminderService{taskRepo: taskRepo, instanceRepo: instanceRepo, planRepo: planRepo, families: families}
}

func (s *ReminderService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	loc, err := s.families.Location(ctx, user.ID)
	if err != nil {
		return "", err
	}
	now = now.In(loc)
	dayStart := model.StartOfDay(now)

	instances, err := s.instanceRepo.ListForAssignees(ctx, []uint{user.ID}, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return "", err
	}
	ids := make([]uint, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.TaskID)
	}
	tasks, err := s.taskRepo.FindMany(ctx, ids)
	if err != nil {
		return "", err
	}

	var plans []model.WeeklyPlan
	actor, err := s.families.Actor(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if actor.FamilyID != nil {
		plans, err = s.planRepo.ListByFamily(ctx, *actor.FamilyID, model.PlanDraft, model.PlanPendingApproval)
		if err != nil {
			return "", err
		}
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Ежедневный отчёт</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("02.01.2006")))

	builder.WriteString("🔥 <b>Задачи на сегодня</b>\n")
	if len(instances) == 0 {
		builder.WriteString("— на сегодня ничего не запланировано\n")
	} else {
		for _, inst := range instances {
			builder.WriteString(formatInstance(inst, tasks, now))
		}
	}

	builder.WriteString("\n🗳 <b>Планы на согласовании</b>\n")
	if len(plans) == 0 {
		builder.WriteString("— нет открытых планов\n")
	} else {
		for _, p := range plans {
			builder.WriteString(formatPlanLine(p, user.ID))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func formatInstance(inst model.ScheduledTaskInstance, tasks map[uint]model.Task, now time.Time) string {
	var sb strings.Builder

	start, end := inst.StartAt.In(now.Location()), inst.EndAt.In(now.Location())
	icon := "🟢"
	switch {
	case inst.Status == model.InstanceCompleted:
		icon = "✅"
	case now.After(end):
		icon = "⚠️"
	case !now.Before(start):
		icon = "⏳"
	}

	title := fmt.Sprintf("задача #%d", inst.TaskID)
	if t, ok := tasks[inst.TaskID]; ok {
		title = strings.TrimSpace(t.Title)
	}
	sb.WriteString(fmt.Sprintf("%s %s–%s %s <i>(#%d)</i>", icon, start.Format("15:04"), end.Format("15:04"), html.EscapeString(title), inst.ID))
	if inst.Reasoning != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(inst.Reasoning))))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func formatPlanLine(p model.WeeklyPlan, userID uint) string {
	status := "черновик"
	if p.Status == model.PlanPendingApproval {
		status = "ждёт согласования"
	}
	vote := "ожидается"
	for _, a := range p.Approvals {
		if a.MemberID != userID {
			continue
		}
		switch a.Status {
		case model.ApprovalApproved:
			vote = "одобрен"
		case model.ApprovalRejected:
			vote = "отклонён"
		}
	}
	return fmt.Sprintf("📝 План #%d, неделя с %s: %s · %d задач · ваш голос: %s\n", p.ID, p.WeekStart, status, len(p.Items), vote)
}
