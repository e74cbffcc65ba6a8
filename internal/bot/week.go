package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"family-planner/internal/model"
)

func (b *Bot) handleWeek(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	loc, err := b.families.Location(ctx, user.ID)
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	from := model.WeekStart(now)
	to := from.AddDate(0, 0, 7)

	instances, err := b.taskSvc.ListInstances(ctx, user.ID, from, to)
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	if len(instances) == 0 {
		return b.sendText(msg.Chat.ID, "На этой неделе пока ничего не запланировано. Попробуй /schedule &lt;id&gt; или /plan.")
	}

	tasks, err := b.taskRepo.FindMany(ctx, instanceTaskIDs(instances))
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🗓 <b>Неделя с %s</b>\n", from.Format("02.01")))
	day := ""
	var pending []model.ScheduledTaskInstance
	for _, inst := range instances {
		start := inst.StartAt.In(loc)
		if key := model.DateKey(start); key != day {
			day = key
			sb.WriteString(fmt.Sprintf("\n<b>%s</b>\n", formatDay(start)))
		}
		sb.WriteString(formatInstanceLine(inst, tasks, loc, now))
		if inst.Status == model.InstancePending {
			pending = append(pending, inst)
		}
	}

	if len(pending) == 0 {
		return b.sendText(msg.Chat.ID, strings.TrimSpace(sb.String()))
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, strings.TrimSpace(sb.String()), instanceKeyboard(pending, tasks, loc))
}

func (b *Bot) handleInstanceCommand(ctx context.Context, msg *tgbotapi.Message, status model.InstanceStatus) error {
	id, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Укажи номер из /week: /%s 7", msg.Command()))
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.changeInstance(ctx, msg.Chat.ID, user, id, status)
}

func (b *Bot) changeInstance(ctx context.Context, chatID int64, user *model.User, instanceID uint, status model.InstanceStatus) error {
	now := time.Now()
	var err error
	if status == model.InstanceCompleted {
		_, err = b.taskSvc.CompleteInstance(ctx, user.ID, instanceID, now)
	} else {
		_, err = b.taskSvc.SkipInstance(ctx, user.ID, instanceID, now)
	}
	if err != nil {
		return b.sendText(chatID, userError(err))
	}
	if status == model.InstanceCompleted {
		return b.sendText(chatID, fmt.Sprintf("✅ Отмечено как выполненное (#%d).", instanceID))
	}
	return b.sendText(chatID, fmt.Sprintf("⏭️ Пропущено (#%d). Место снова свободно для планирования.", instanceID))
}

func instanceTaskIDs(instances []model.ScheduledTaskInstance) []uint {
	seen := make(map[uint]struct{}, len(instances))
	ids := make([]uint, 0, len(instances))
	for _, inst := range instances {
		if _, ok := seen[inst.TaskID]; ok {
			continue
		}
		seen[inst.TaskID] = struct{}{}
		ids = append(ids, inst.TaskID)
	}
	return ids
}
