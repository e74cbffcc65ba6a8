package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"family-planner/internal/model"
	"family-planner/internal/service"
)

var weekdayShort = map[time.Weekday]string{
	time.Monday:    "Пн",
	time.Tuesday:   "Вт",
	time.Wednesday: "Ср",
	time.Thursday:  "Чт",
	time.Friday:    "Пт",
	time.Saturday:  "Сб",
	time.Sunday:    "Вс",
}

func escape(s string) string {
	return html.EscapeString(s)
}

func shortTitle(title string) string {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) <= 32 {
		return title
	}
	runes := []rune(title)
	return string(runes[:31]) + "…"
}

func parseID(raw string) (uint, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "#")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

func isCancelDialogInput(text string) bool {
	text = strings.TrimSpace(text)
	return text == btnCancelDialog || strings.EqualFold(text, "отмена")
}

func displayName(u model.User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("участник #%d", u.ID)
}

func formatDay(t time.Time) string {
	return fmt.Sprintf("%s %s", weekdayShort[t.Weekday()], t.Format("02.01"))
}

func formatWeekdays(set model.WeekdaySet) string {
	parts := make([]string, 0, set.Len())
	for _, d := range set.Days() {
		parts = append(parts, weekdayShort[d.Time()])
	}
	return strings.Join(parts, ", ")
}

func formatTask(task model.Task) string {
	var sb strings.Builder
	icon := "🎯"
	if task.Kind == model.KindHouseholdChore {
		icon = "🧹"
	}
	sb.WriteString(fmt.Sprintf("%s <b>%s</b> <i>(#%d)</i>\n", icon, escape(task.Title), task.ID))
	sb.WriteString(fmt.Sprintf("⏱ %d мин · приоритет %d\n", task.DurationMinutes, task.Priority))
	switch task.Mode {
	case model.ModeFixed:
		clock := "—"
		if task.TimeOfDay != nil {
			clock = task.TimeOfDay.String()
		}
		sb.WriteString(fmt.Sprintf("📌 %s в %s", formatWeekdays(task.Weekdays), clock))
	default:
		period := "в неделю"
		if task.Period == model.PerDay {
			period = "в день"
		}
		sb.WriteString(fmt.Sprintf("🔀 %d раз %s", task.Frequency, period))
	}
	if desc := strings.TrimSpace(task.Description); desc != "" {
		sb.WriteString(fmt.Sprintf("\n📝 %s", escape(desc)))
	}
	return sb.String()
}

func formatSlots(report service.SlotReport, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔎 Задача #%d: нужно ещё %d, можно поставить %d\n", report.TaskID, report.Achievable.Required, report.Achievable.Count))
	shown := 0
	for _, day := range report.Days {
		if len(day.Candidates) == 0 {
			continue
		}
		start := day.Candidates[0].Start.In(loc)
		sb.WriteString(fmt.Sprintf("\n<b>%s</b>: ", formatDay(start)))
		limit := len(day.Candidates)
		if limit > 4 {
			limit = 4
		}
		times := make([]string, 0, limit)
		for _, c := range day.Candidates[:limit] {
			times = append(times, c.Start.In(loc).Format("15:04"))
		}
		sb.WriteString(strings.Join(times, ", "))
		shown++
	}
	if shown == 0 {
		sb.WriteString("\nСвободных окон не нашлось.")
	}
	for _, w := range report.Warnings {
		sb.WriteString(fmt.Sprintf("\n⚠️ %s", escape(w)))
	}
	return sb.String()
}

func formatInstanceLine(inst model.ScheduledTaskInstance, tasks map[uint]model.Task, loc *time.Location, now time.Time) string {
	icon := "🟢"
	switch {
	case inst.Status == model.InstanceCompleted:
		icon = "✅"
	case inst.Status == model.InstanceSkipped:
		icon = "⏭️"
	case now.After(inst.EndAt):
		icon = "⚠️"
	}
	title := fmt.Sprintf("задача #%d", inst.TaskID)
	if t, ok := tasks[inst.TaskID]; ok {
		title = t.Title
	}
	return fmt.Sprintf("%s %s–%s %s <i>(#%d)</i>\n", icon, inst.StartAt.In(loc).Format("15:04"), inst.EndAt.In(loc).Format("15:04"), escape(shortTitle(title)), inst.ID)
}

func formatPlan(p *model.WeeklyPlan, tasks map[uint]model.Task, members []model.User, userID uint, loc *time.Location) string {
	names := make(map[uint]string, len(members))
	for _, m := range members {
		names[m.ID] = displayName(m)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🗳 <b>План #%d</b>, неделя с %s · %s\n", p.ID, p.WeekStart, planStatusText(p.Status)))
	if r := strings.TrimSpace(p.Reasoning); r != "" {
		sb.WriteString(fmt.Sprintf("<i>%s</i>\n", escape(r)))
	}

	day := ""
	for _, item := range p.Items {
		start := item.StartAt.In(loc)
		if key := model.DateKey(start); key != day {
			day = key
			sb.WriteString(fmt.Sprintf("\n<b>%s</b>\n", formatDay(start)))
		}
		title := fmt.Sprintf("задача #%d", item.TaskID)
		if t, ok := tasks[item.TaskID]; ok {
			title = t.Title
		}
		line := fmt.Sprintf("• %s–%s %s → %s", start.Format("15:04"), item.EndAt.In(loc).Format("15:04"), escape(shortTitle(title)), escape(names[item.AssigneeID]))
		if item.MaterializeError != "" {
			line += " ❗"
		}
		sb.WriteString(line + "\n")
	}
	if len(p.Items) == 0 {
		sb.WriteString("\nВ плане пока нет задач.\n")
	}

	sb.WriteString("\n<b>Голоса:</b>\n")
	for _, a := range p.Approvals {
		mark := "⏳"
		switch a.Status {
		case model.ApprovalApproved:
			mark = "👍"
		case model.ApprovalRejected:
			mark = "👎"
		}
		name := names[a.MemberID]
		if a.MemberID == userID {
			name += " (вы)"
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", mark, escape(name)))
	}
	return strings.TrimSpace(sb.String())
}

func planStatusText(status model.PlanStatus) string {
	switch status {
	case model.PlanDraft:
		return "черновик"
	case model.PlanPendingApproval:
		return "на согласовании"
	case model.PlanApproved:
		return "одобрен"
	case model.PlanRejected:
		return "отклонён"
	case model.PlanExpired:
		return "истёк"
	default:
		return string(status)
	}
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelWeek),
			tgbotapi.NewKeyboardButton(menuLabelPlan),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	keyboard.ResizeKeyboard = true
	return keyboard
}

func replyKeyboard(rows ...[]string) tgbotapi.ReplyKeyboardMarkup {
	buttons := make([][]tgbotapi.KeyboardButton, 0, len(rows)+1)
	for _, row := range rows {
		r := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			r = append(r, tgbotapi.NewKeyboardButton(label))
		}
		buttons = append(buttons, r)
	}
	buttons = append(buttons, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)))
	keyboard := tgbotapi.NewReplyKeyboard(buttons...)
	keyboard.ResizeKeyboard = true
	keyboard.OneTimeKeyboard = true
	return keyboard
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return replyKeyboard()
}

func kindKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return replyKeyboard([]string{btnPersonal, btnChore})
}

func modeKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return replyKeyboard([]string{btnFixed, btnFlexible})
}

func periodKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return replyKeyboard([]string{btnPerDay, btnPerWeek})
}

func confirmationKeyboard() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	keyboard.ResizeKeyboard = true
	keyboard.OneTimeKeyboard = true
	return keyboard
}

func taskActionsKeyboard(taskID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗓 Запланировать", fmt.Sprintf("%s%d", cbSchedulePrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", fmt.Sprintf("%s%d", cbDeletePrefix, taskID)),
		),
	)
}

func scheduleKeyboard(taskID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗓 Запланировать лучшие", fmt.Sprintf("%s%d", cbSchedulePrefix, taskID)),
		),
	)
}

func instanceKeyboard(pending []model.ScheduledTaskInstance, tasks map[uint]model.Task, loc *time.Location) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(pending))
	for _, inst := range pending {
		label := fmt.Sprintf("#%d", inst.ID)
		if t, ok := tasks[inst.TaskID]; ok {
			label = fmt.Sprintf("%s %s", inst.StartAt.In(loc).Format("02.01 15:04"), shortTitle(t.Title))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ "+label, fmt.Sprintf("%s%d", cbDonePrefix, inst.ID)),
			tgbotapi.NewInlineKeyboardButtonData(btnSkip, fmt.Sprintf("%s%d", cbSkipPrefix, inst.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func planKeyboard(p *model.WeeklyPlan) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍 Одобрить", fmt.Sprintf("%s%d", cbApprovePrefix, p.ID)),
			tgbotapi.NewInlineKeyboardButtonData("👎 Отклонить", fmt.Sprintf("%s%d", cbRejectPrefix, p.ID)),
		),
	}
	if p.Status == model.PlanDraft {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📨 На согласование", fmt.Sprintf("%s%d", cbSubmitPrefix, p.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
