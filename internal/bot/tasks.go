package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"family-planner/internal/model"
	"family-planner/internal/service"
)

type conversationStage int

const (
	stageTitle conversationStage = iota
	stageKind
	stageDuration
	stageMode
	stageWeekdays
	stageTimeOfDay
	stageFrequency
	stagePeriod
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.clearConfirmation(msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ Как назовём задачу?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)

	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Название не может быть пустым.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageKind
		return b.sendWithReplyMarkup(msg.Chat.ID, "Это личная цель или домашнее дело?", kindKeyboard())

	case stageKind:
		switch text {
		case btnPersonal:
			state.input.Kind = model.KindPersonalGoal
		case btnChore:
			state.input.Kind = model.KindHouseholdChore
		default:
			return b.sendWithReplyMarkup(msg.Chat.ID, "Выбери вариант кнопкой.", kindKeyboard())
		}
		state.stage = stageDuration
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏱ Сколько минут занимает?", cancelKeyboard())

	case stageDuration:
		minutes, err := strconv.Atoi(text)
		if err != nil || minutes <= 0 || minutes > 24*60 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Нужно число минут, например 30.", cancelKeyboard())
		}
		state.input.DurationMinutes = minutes
		state.stage = stageMode
		return b.sendWithReplyMarkup(msg.Chat.ID, "Задача в фиксированное время или подобрать время гибко?", modeKeyboard())

	case stageMode:
		switch text {
		case btnFixed:
			state.input.Mode = model.ModeFixed
			state.stage = stageWeekdays
			return b.sendWithReplyMarkup(msg.Chat.ID, "📅 По каким дням? Например: <code>пн,ср,пт</code>", cancelKeyboard())
		case btnFlexible:
			state.input.Mode = model.ModeFlexible
			state.stage = stageFrequency
			return b.sendWithReplyMarkup(msg.Chat.ID, "🔁 Сколько раз?", cancelKeyboard())
		default:
			return b.sendWithReplyMarkup(msg.Chat.ID, "Выбери вариант кнопкой.", modeKeyboard())
		}

	case stageWeekdays:
		days, err := model.ParseWeekdaySet(text)
		if err != nil || days.Len() == 0 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Не разобрал дни. Пример: <code>пн,ср,пт</code>", cancelKeyboard())
		}
		state.input.Weekdays = days
		state.stage = stageTimeOfDay
		return b.sendWithReplyMarkup(msg.Chat.ID, "🕒 Во сколько? Формат ЧЧ:ММ", cancelKeyboard())

	case stageTimeOfDay:
		clock, err := model.ParseClock(text)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Формат времени ЧЧ:ММ, например 18:30.", cancelKeyboard())
		}
		state.input.TimeOfDay = &clock
		return b.finishNewTask(ctx, msg, state)

	case stageFrequency:
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Нужно целое число от 1.", cancelKeyboard())
		}
		state.input.Frequency = n
		state.stage = stagePeriod
		return b.sendWithReplyMarkup(msg.Chat.ID, fmt.Sprintf("%d раз — в день или в неделю?", n), periodKeyboard())

	case stagePeriod:
		switch text {
		case btnPerDay:
			state.input.Period = model.PerDay
		case btnPerWeek:
			state.input.Period = model.PerWeek
		default:
			return b.sendWithReplyMarkup(msg.Chat.ID, "Выбери вариант кнопкой.", periodKeyboard())
		}
		return b.finishNewTask(ctx, msg, state)
	}
	return nil
}

func (b *Bot) finishNewTask(ctx context.Context, msg *tgbotapi.Message, state *conversationState) error {
	b.clearConversation(msg.From.ID)

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.CreateTask(ctx, user, state.input)
	if err != nil {
		return b.sendTextWithRemove(msg.Chat.ID, userError(err))
	}
	zap.L().Info("[Bot] task created", zap.Uint("task_id", task.ID), zap.Uint("user_id", user.ID))

	text := fmt.Sprintf("✅ Задача добавлена:\n%s", formatTask(*task))
	if err := b.sendTextWithRemove(msg.Chat.ID, text); err != nil {
		return err
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, "Подобрать время на ближайшую неделю?", taskActionsKeyboard(task.ID))
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	tasks, err := b.taskSvc.ListTasks(ctx, user.ID)
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	if len(tasks) == 0 {
		return b.sendText(msg.Chat.ID, "Задач пока нет. Добавь первую через /newtask.")
	}

	if err := b.sendText(msg.Chat.ID, fmt.Sprintf("📋 <b>Задачи</b> (%d)", len(tasks))); err != nil {
		return err
	}
	for _, task := range tasks {
		if err := b.sendWithReplyMarkup(msg.Chat.ID, formatTask(task), taskActionsKeyboard(task.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Укажи номер задачи: /delete 12")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.askDeleteConfirmation(ctx, msg.Chat.ID, msg.From, user, taskID)
}

func (b *Bot) askDeleteConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, user *model.User, taskID uint) error {
	task, err := b.taskSvc.GetTask(ctx, user.ID, taskID)
	if err != nil {
		return b.sendText(chatID, userError(err))
	}
	b.setConfirmation(from.ID, confirmationRequest{taskID: task.ID})
	text := fmt.Sprintf("Удалить задачу «%s»? Запланированные дела останутся в расписании.", escape(shortTitle(task.Title)))
	return b.sendWithReplyMarkup(chatID, text, confirmationKeyboard())
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, pending confirmationRequest) error {
	switch strings.TrimSpace(msg.Text) {
	case btnConfirm:
		b.clearConfirmation(msg.From.ID)
		user, err := b.ensureUser(ctx, msg.From)
		if err != nil {
			return err
		}
		if err := b.taskSvc.DeleteTask(ctx, user.ID, pending.taskID); err != nil {
			return b.sendTextWithRemove(msg.Chat.ID, userError(err))
		}
		return b.sendTextWithRemove(msg.Chat.ID, "🗑 Задача удалена.")
	case btnCancel:
		b.clearConfirmation(msg.From.ID)
		return b.sendTextWithRemove(msg.Chat.ID, "Оставили как есть.")
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Подтверди или отмени удаление кнопкой.", confirmationKeyboard())
	}
}

// parseTaskDays reads "<taskID> [days]" command arguments.
func parseTaskDays(args string) (uint, int, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("task id is required")
	}
	id, err := parseID(fields[0])
	if err != nil {
		return 0, 0, err
	}
	days := 7
	if len(fields) > 1 {
		days, err = strconv.Atoi(fields[1])
		if err != nil || days < 1 || days > 31 {
			return 0, 0, fmt.Errorf("days must be between 1 and 31")
		}
	}
	return id, days, nil
}

func (b *Bot) handleSlots(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, days, err := parseTaskDays(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Формат: /slots &lt;id задачи&gt; [дней]")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	loc, err := b.families.Location(ctx, user.ID)
	if err != nil {
		return err
	}

	now := time.Now().In(loc)
	from := model.StartOfDay(now)
	report, err := b.planning.FindSlots(ctx, user.ID, taskID, from, from.AddDate(0, 0, days-1), now)
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, formatSlots(report, loc), scheduleKeyboard(taskID))
}

func (b *Bot) handleSchedule(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, days, err := parseTaskDays(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Формат: /schedule &lt;id задачи&gt; [дней]")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.quickSchedule(ctx, msg.Chat.ID, user, taskID, days)
}

func (b *Bot) quickSchedule(ctx context.Context, chatID int64, user *model.User, taskID uint, days int) error {
	loc, err := b.families.Location(ctx, user.ID)
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	from := model.StartOfDay(now)

	res, err := b.planning.QuickSchedule(ctx, user.ID, taskID, from, from.AddDate(0, 0, days-1), now)
	if err != nil {
		return b.sendText(chatID, userError(err))
	}
	zap.L().Info("[Bot] quick schedule", zap.Uint("task_id", taskID), zap.Uint("user_id", user.ID), zap.Int("placed", len(res.Instances)))

	if len(res.Instances) == 0 {
		return b.sendText(chatID, "🤷 Свободного времени под эту задачу не нашлось, или она уже запланирована полностью.")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🗓 Запланировано: %d\n", len(res.Instances)))
	for _, inst := range res.Instances {
		start := inst.StartAt.In(loc)
		sb.WriteString(fmt.Sprintf("• %s %s–%s <i>(#%d)</i>\n", formatDay(start), start.Format("15:04"), inst.EndAt.In(loc).Format("15:04"), inst.ID))
	}
	for _, rej := range res.Rejected {
		sb.WriteString(fmt.Sprintf("⚠️ %s\n", escape(rej.Detail)))
	}
	for _, w := range res.Warnings {
		sb.WriteString(fmt.Sprintf("⚠️ %s\n", escape(w)))
	}
	return b.sendText(chatID, strings.TrimSpace(sb.String()))
}
