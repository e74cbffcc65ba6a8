package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"family-planner/internal/model"
)

func (b *Bot) handlePlan(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	arg := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	switch arg {
	case "new", "now":
		return b.generatePlan(ctx, msg.Chat.ID, user, arg == "new")
	case "":
	default:
		id, err := parseID(arg)
		if err != nil {
			return b.sendText(msg.Chat.ID, "Формат: /plan, /plan new, /plan now или /plan &lt;id&gt;")
		}
		p, err := b.plans.Get(ctx, user.ID, id)
		if err != nil {
			return b.sendText(msg.Chat.ID, userError(err))
		}
		return b.sendPlan(ctx, msg.Chat.ID, user.ID, p)
	}

	open, err := b.plans.ListOpen(ctx, user.ID)
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	if len(open) == 0 {
		return b.sendText(msg.Chat.ID, "Открытых планов нет. /plan new составит план на следующую неделю.")
	}
	for i := range open {
		if err := b.sendPlan(ctx, msg.Chat.ID, user.ID, &open[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) generatePlan(ctx context.Context, chatID int64, user *model.User, nextWeek bool) error {
	family, err := b.families.FamilyOf(ctx, user.ID)
	if err != nil {
		return b.sendText(chatID, userError(err))
	}
	loc, err := b.families.Location(ctx, user.ID)
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	weekStart := model.WeekStart(now)
	if nextWeek {
		weekStart = weekStart.AddDate(0, 0, 7)
	}

	_ = b.sendText(chatID, "🧠 Составляю план, это может занять немного времени...")
	generated, err := b.planning.GenerateWeeklyPlan(ctx, family.ID, weekStart, user.ID, now)
	if err != nil {
		return b.sendText(chatID, userError(err))
	}
	if generated.Existing {
		if err := b.sendText(chatID, "На эту неделю уже есть открытый план:"); err != nil {
			return err
		}
		return b.sendPlan(ctx, chatID, user.ID, generated.Plan)
	}
	zap.L().Info("[Bot] plan generated", zap.Uint("plan_id", generated.Plan.ID), zap.String("source", generated.Source), zap.Int("items", len(generated.Plan.Items)))

	if len(generated.Rejected) > 0 || len(generated.Warnings) > 0 {
		var sb strings.Builder
		for _, rej := range generated.Rejected {
			sb.WriteString(fmt.Sprintf("⚠️ задача #%d: %s\n", rej.Placement.TaskID, escape(rej.Detail)))
		}
		for _, w := range generated.Warnings {
			sb.WriteString(fmt.Sprintf("⚠️ %s\n", escape(w)))
		}
		if err := b.sendText(chatID, strings.TrimSpace(sb.String())); err != nil {
			return err
		}
	}
	return b.sendPlan(ctx, chatID, user.ID, generated.Plan)
}

func (b *Bot) handleVoteCommand(ctx context.Context, msg *tgbotapi.Message, decision model.ApprovalStatus) error {
	planID, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Укажи номер плана: /%s 3", msg.Command()))
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.vote(ctx, msg.Chat.ID, user, planID, decision)
}

func (b *Bot) vote(ctx context.Context, chatID int64, user *model.User, planID uint, decision model.ApprovalStatus) error {
	res, err := b.plans.Decide(ctx, user.ID, planID, decision, time.Now())
	if err != nil {
		return b.sendText(chatID, userError(err))
	}

	var text string
	switch res.Plan.Status {
	case model.PlanApproved:
		text = fmt.Sprintf("🎉 План #%d одобрен всеми. В расписание добавлено дел: %d.", planID, len(res.Instances))
		for _, w := range res.Warnings {
			text += fmt.Sprintf("\n⚠️ %s", escape(w))
		}
	case model.PlanRejected:
		text = fmt.Sprintf("🙅 План #%d отклонён. Можно составить новый: /plan new", planID)
	default:
		text = fmt.Sprintf("🗳 Голос учтён. Ждём остальных участников (план #%d).", planID)
	}
	return b.sendText(chatID, text)
}

func (b *Bot) submitPlan(ctx context.Context, chatID int64, user *model.User, planID uint) error {
	p, err := b.plans.Submit(ctx, user.ID, planID)
	if err != nil {
		return b.sendText(chatID, userError(err))
	}
	if err := b.sendText(chatID, fmt.Sprintf("📨 План #%d отправлен на согласование.", p.ID)); err != nil {
		return err
	}
	return b.NotifyPlan(ctx, p)
}

func (b *Bot) sendPlan(ctx context.Context, chatID int64, userID uint, p *model.WeeklyPlan) error {
	ids := make([]uint, 0, len(p.Items))
	for _, item := range p.Items {
		ids = append(ids, item.TaskID)
	}
	tasks, err := b.taskRepo.FindMany(ctx, ids)
	if err != nil {
		return err
	}
	members, err := b.families.Members(ctx, p.FamilyID)
	if err != nil {
		return err
	}
	loc, err := b.families.Location(ctx, userID)
	if err != nil {
		return err
	}

	text := formatPlan(p, tasks, members, userID, loc)
	if !p.Status.Mutable() {
		return b.sendText(chatID, text)
	}
	return b.sendWithReplyMarkup(chatID, text, planKeyboard(p))
}
