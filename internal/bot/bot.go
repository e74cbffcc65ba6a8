package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"family-planner/internal/config"
	"family-planner/internal/model"
	"family-planner/internal/plan"
	"family-planner/internal/repository"
	"family-planner/internal/schedule"
	"family-planner/internal/service"
)

const (
	cbDonePrefix     = "done:"
	cbSkipPrefix     = "skip:"
	cbSchedulePrefix = "sched:"
	cbDeletePrefix   = "delete:"
	cbApprovePrefix  = "approve:"
	cbRejectPrefix   = "reject:"
	cbSubmitPrefix   = "submit:"
)

const (
	btnSkip          = "⏭️ Пропустить"
	btnConfirm       = "✅ Подтвердить"
	btnCancel        = "↩️ Отмена"
	btnCancelDialog  = "⏪ Отменить ввод"
	btnPersonal      = "🎯 Личная цель"
	btnChore         = "🧹 Домашнее дело"
	btnFixed         = "📌 Фиксированное время"
	btnFlexible      = "🔀 Гибко"
	btnPerDay        = "в день"
	btnPerWeek       = "в неделю"
	menuLabelNewTask = "➕ Новая задача"
	menuLabelTasks   = "📋 Задачи"
	menuLabelWeek    = "🗓 Неделя"
	menuLabelPlan    = "🗳 План"
	menuLabelHelp    = "ℹ️ Помощь"
)

// Services are the parts of the planner the bot talks to.
type Services struct {
	Users    *repository.UserRepository
	Tasks    *repository.TaskRepository
	Families *service.FamilyService
	TaskSvc  *service.TaskService
	Planning *service.PlanningService
	Plans    *service.PlanService
	Reminder *service.ReminderService
}

type confirmationRequest struct {
	taskID uint
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	taskRepo      *repository.TaskRepository
	families      *service.FamilyService
	taskSvc       *service.TaskService
	planning      *service.PlanningService
	plans         *service.PlanService
	reminderSvc   *service.ReminderService
	config        *config.Config
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

func New(token string, svc Services, cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	zap.L().Info("[Bot] authorized", zap.String("account", api.Self.UserName))

	return &Bot{
		api:           api,
		userRepo:      svc.Users,
		taskRepo:      svc.Tasks,
		families:      svc.Families,
		taskSvc:       svc.TaskSvc,
		planning:      svc.Planning,
		plans:         svc.Plans,
		reminderSvc:   svc.Reminder,
		config:        cfg,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	zap.L().Info("[Bot] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				zap.L().Error("[Bot] handle callback", zap.Error(err))
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				zap.L().Error("[Bot] handle message", zap.Error(err))
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён. Можно начать заново.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		zap.L().Debug("[Bot] command", zap.Int64("from", msg.From.ID), zap.String("command", msg.Command()), zap.String("args", msg.CommandArguments()))
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /newtask, чтобы добавить задачу, или /help для списка команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "slots":
		return b.handleSlots(ctx, msg)
	case "schedule":
		return b.handleSchedule(ctx, msg)
	case "week":
		return b.handleWeek(ctx, msg)
	case "done":
		return b.handleInstanceCommand(ctx, msg, model.InstanceCompleted)
	case "skip":
		return b.handleInstanceCommand(ctx, msg, model.InstanceSkipped)
	case "plan":
		return b.handlePlan(ctx, msg)
	case "approve":
		return b.handleVoteCommand(ctx, msg, model.ApprovalApproved)
	case "reject":
		return b.handleVoteCommand(ctx, msg, model.ApprovalRejected)
	case "family":
		return b.handleFamily(ctx, msg)
	case "join":
		return b.handleJoin(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}

	text := fmt.Sprintf(
		"👋 Привет, %s!\n<b>Я семейный планировщик: найду время для дел и целей всей семьи.</b>\n\nКоманды:\n"+
			"• /newtask — добавить задачу\n"+
			"• /tasks — мои задачи и семейные дела\n"+
			"• /week — расписание на неделю\n"+
			"• /plan — недельный план семьи\n"+
			"• /help — все команды",
		escape(name),
	)

	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Подсказки</b>\n" +
		"• /newtask — добавить задачу пошагово\n" +
		"• /tasks — список задач с кнопками «Запланировать» и «Удалить»\n" +
		"• /slots &lt;id&gt; [дней] — свободное время для задачи\n" +
		"• /schedule &lt;id&gt; [дней] — сразу запланировать задачу\n" +
		"• /week — что запланировано на эту неделю\n" +
		"• /done &lt;id&gt; и /skip &lt;id&gt; — отметить запланированное дело\n" +
		"• /delete &lt;id&gt; — удалить задачу\n" +
		"• /family &lt;название&gt; — создать семью, /join &lt;id&gt; — вступить\n" +
		"• /plan — открытые планы, /plan new — план на следующую неделю, /plan now — на текущую\n" +
		"• /approve &lt;id&gt; и /reject &lt;id&gt; — голос за план\n" +
		"• /report — отчёт на сегодня\n" +
		"• /cancel — отменить текущий ввод"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.reminderSvc.DailySummary(ctx, *user, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сформировать отчёт: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleFamily(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		family, err := b.families.FamilyOf(ctx, user.ID)
		if err != nil {
			return b.sendText(msg.Chat.ID, userError(err))
		}
		members, err := b.families.Members(ctx, family.ID)
		if err != nil {
			return b.sendText(msg.Chat.ID, userError(err))
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("👪 <b>%s</b> (#%d)\n", escape(family.Name), family.ID))
		for _, m := range members {
			sb.WriteString(fmt.Sprintf("• %s\n", escape(displayName(m))))
		}
		sb.WriteString(fmt.Sprintf("\nПригласи близких командой <code>/join %d</code>", family.ID))
		return b.sendText(msg.Chat.ID, sb.String())
	}

	family, err := b.families.CreateFamily(ctx, user, name)
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	zap.L().Info("[Bot] family created", zap.Uint("family_id", family.ID), zap.Uint("user_id", user.ID))
	return b.sendText(msg.Chat.ID, fmt.Sprintf("👪 Семья «%s» создана. Другим участникам: <code>/join %d</code>", escape(family.Name), family.ID))
}

func (b *Bot) handleJoin(ctx context.Context, msg *tgbotapi.Message) error {
	familyID, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Укажи номер семьи: /join 3")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if err := b.families.Join(ctx, familyID, user.ID); err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	return b.sendText(msg.Chat.ID, "👪 Готово, теперь вы в одной семье.")
}

// SendDailyReports sends a summary to every known user.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.userRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if user.TelegramID == nil {
			continue
		}
		text, err := b.reminderSvc.DailySummary(ctx, user, now)
		if err != nil {
			zap.L().Warn("[Bot] build summary", zap.Uint("user_id", user.ID), zap.Error(err))
			continue
		}
		if err := b.sendText(*user.TelegramID, text); err != nil {
			zap.L().Warn("[Bot] send summary", zap.Uint("user_id", user.ID), zap.Error(err))
		}
	}
	return nil
}

// NotifyPlan tells every member of the plan's family that a draft is
// waiting for their vote.
func (b *Bot) NotifyPlan(ctx context.Context, p *model.WeeklyPlan) error {
	members, err := b.families.Members(ctx, p.FamilyID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.TelegramID == nil {
			continue
		}
		if err := b.sendPlan(ctx, *m.TelegramID, m.ID, p); err != nil {
			zap.L().Warn("[Bot] notify plan", zap.Uint("plan_id", p.ID), zap.Uint("user_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	name := strings.TrimSpace(strings.Join([]string{from.FirstName, from.LastName}, " "))
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, name, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendMenuPlaceholder(chatID)
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Главное меню")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		zap.L().Warn("[Bot] callback ack", zap.Error(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	b.ack(cb, "")

	data := cb.Data
	chatID := cb.Message.Chat.ID
	zap.L().Debug("[Bot] callback", zap.Int64("from", cb.From.ID), zap.String("data", data))

	prefixes := []string{cbDonePrefix, cbSkipPrefix, cbSchedulePrefix, cbDeletePrefix, cbApprovePrefix, cbRejectPrefix, cbSubmitPrefix}
	for _, prefix := range prefixes {
		if !strings.HasPrefix(data, prefix) {
			continue
		}
		id, err := parseID(strings.TrimPrefix(data, prefix))
		if err != nil {
			return nil
		}
		user, err := b.ensureUser(ctx, cb.From)
		if err != nil {
			return err
		}
		switch prefix {
		case cbDonePrefix:
			return b.changeInstance(ctx, chatID, user, id, model.InstanceCompleted)
		case cbSkipPrefix:
			return b.changeInstance(ctx, chatID, user, id, model.InstanceSkipped)
		case cbSchedulePrefix:
			return b.quickSchedule(ctx, chatID, user, id, 7)
		case cbDeletePrefix:
			return b.askDeleteConfirmation(ctx, chatID, cb.From, user, id)
		case cbApprovePrefix:
			return b.vote(ctx, chatID, user, id, model.ApprovalApproved)
		case cbRejectPrefix:
			return b.vote(ctx, chatID, user, id, model.ApprovalRejected)
		case cbSubmitPrefix:
			return b.submitPlan(ctx, chatID, user, id)
		}
	}
	return nil
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNewTask):
		return true, b.startNewTaskConversation(ctx, msg)
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelWeek):
		return true, b.handleWeek(ctx, msg)
	case strings.ToLower(menuLabelPlan):
		return true, b.handlePlan(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

// userError turns a service error into a reply.
func userError(err error) string {
	var rejection *schedule.RejectionError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "Не найдено."
	case errors.Is(err, service.ErrForbidden):
		return "Нет доступа к этой записи."
	case errors.Is(err, service.ErrNoFamily):
		return "Сначала создай семью: /family &lt;название&gt; или вступи в существующую: /join &lt;id&gt;"
	case errors.Is(err, plan.ErrPlanClosed):
		return "План уже закрыт."
	case errors.Is(err, plan.ErrNotMember):
		return "Этот план принадлежит другой семье."
	case errors.Is(err, repository.ErrVersionConflict):
		return "Кто-то уже изменил этот пункт. Открой план заново."
	case errors.Is(err, service.ErrInvalidTransition):
		return "Это дело уже отмечено."
	case errors.As(err, &rejection):
		return fmt.Sprintf("Размещение отклонено: %s", escape(rejection.Detail))
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, schedule.ErrInvalidInterval):
		return fmt.Sprintf("Проверь ввод: %s", escape(err.Error()))
	default:
		return fmt.Sprintf("Ошибка: %s", escape(err.Error()))
	}
}
