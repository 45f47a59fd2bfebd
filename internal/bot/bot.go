package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/tradeprep/internal/config"
	"github.com/example/tradeprep/internal/logger"
	"github.com/example/tradeprep/internal/session"
	"github.com/example/tradeprep/pkg/models"
)

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// sender is the part of the Telegram API the bot talks to
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// UserStore resolves Telegram accounts to learners
type UserStore interface {
	GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username string) (*models.User, error)
	UpdateNotifications(ctx context.Context, id string, enabled bool, hour int) error
}

// Catalog lists what can be practiced and lets admins inspect or remove items
type Catalog interface {
	ListCategories(ctx context.Context) ([]string, error)
	GetByID(ctx context.Context, id string) (*models.Item, error)
	Delete(ctx context.Context, id string) error
}

// StatsSource reports a user's progress
type StatsSource interface {
	CategoryStats(ctx context.Context, userID, category string, now time.Time) (*models.CategoryStats, error)
	AllCategoryStats(ctx context.Context, userID string, now time.Time) ([]models.CategoryStats, error)
}

// ResultStore stores finished sessions and lists them back
type ResultStore interface {
	Create(ctx context.Context, result *models.SessionResult) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SessionResult, error)
}

// ProgressResetter forgets a learner's schedule
type ProgressResetter interface {
	DeleteForUser(ctx context.Context, userID string) error
}

// ReminderChecker sends a user their due-item reminder on demand
type ReminderChecker interface {
	RunManualCheck(ctx context.Context, user models.User) (bool, error)
}

// Deps are the bot's collaborators
type Deps struct {
	Users      UserStore
	Catalog    Catalog
	Stats      StatsSource
	Results    ResultStore
	Progress   ProgressResetter
	NewSession func(userID string) *session.Controller
	Logger     *logger.Logger
}

// chatSession is the practice session running in one chat
type chatSession struct {
	controller *session.Controller
	recorded   bool
}

// Bot represents the Telegram bot application
type Bot struct {
	api          sender
	token        string
	deps         Deps
	log          *logger.Logger
	adminUserIDs map[int64]bool
	now          func() time.Time

	mu        sync.Mutex
	sessions  map[int64]*chatSession
	reminders ReminderChecker
}

// New creates a new bot instance. It does not contact Telegram until Start.
func New(cfg config.TelegramConfig, deps Deps) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is not set")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	b := &Bot{
		token:        cfg.Token,
		deps:         deps,
		log:          log.With("component", "bot"),
		adminUserIDs: make(map[int64]bool),
		now:          time.Now,
		sessions:     make(map[int64]*chatSession),
	}
	for _, id := range cfg.AdminUserIDs {
		b.adminUserIDs[id] = true
	}
	return b, nil
}

// Start connects to Telegram and handles updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	botAPI, err := tgbotapi.NewBotAPI(b.token)
	if err != nil {
		return fmt.Errorf("unable to create bot: %w", err)
	}
	b.mu.Lock()
	b.api = botAPI
	b.mu.Unlock()
	b.log.Info("authorized on account", "username", botAPI.Self.UserName)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := botAPI.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup
	defer func() {
		botAPI.StopReceivingUpdates()
		wg.Wait()
		b.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

// Stop closes every chat session, flushing pending progress writes
func (b *Bot) Stop() {
	b.mu.Lock()
	all := b.sessions
	b.sessions = make(map[int64]*chatSession)
	b.mu.Unlock()

	for _, cs := range all {
		cs.controller.Close()
	}
	b.log.Info("bot stopped", "sessions", len(all))
}

// SendReminders implements scheduler.Notifier
func (b *Bot) SendReminders(ctx context.Context, user models.User, due int) error {
	if user.TelegramID == nil {
		return nil
	}
	api := b.client()
	if api == nil {
		return errors.New("bot is not started")
	}

	msg := tgbotapi.NewMessage(*user.TelegramID, reminderText(due))
	msg.ReplyMarkup = createKeyboard(b.MainMenuButtons())
	if _, err := api.Send(msg); err != nil {
		return fmt.Errorf("failed to send reminder: %w", err)
	}
	b.log.Info("sent reminder", "user_id", user.ID, "due", due)
	return nil
}

// SetReminderChecker enables /remind. The scheduler needs the bot as its notifier,
// so it is attached after both exist.
func (b *Bot) SetReminderChecker(rc ReminderChecker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reminders = rc
}

func (b *Bot) reminderChecker() ReminderChecker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reminders
}

func (b *Bot) client() sender {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.api
}

// isAdmin checks if a user is an admin
func (b *Bot) isAdmin(userID int64) bool {
	return b.adminUserIDs[userID]
}

// MainMenuButtons returns the buttons shown under most replies
func (b *Bot) MainMenuButtons() [][]MenuButton {
	return [][]MenuButton{{{Text: "📚 Categories", CallbackData: callbackMenu}}}
}

func (b *Bot) sendText(chatID int64, text string, buttons [][]MenuButton) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = createKeyboard(buttons)
	}
	if _, err := b.client().Send(msg); err != nil {
		b.log.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

// chatSessionFor returns the chat's session, creating it for user if needed
func (b *Bot) chatSessionFor(chatID int64, user *models.User) *chatSession {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cs, ok := b.sessions[chatID]; ok && cs.controller.UserID() == user.ID {
		return cs
	} else if ok {
		cs.controller.Close()
	}
	cs := &chatSession{controller: b.deps.NewSession(user.ID)}
	b.sessions[chatID] = cs
	return cs
}

// endSession closes and forgets the chat's session, waiting for its pending writes
func (b *Bot) endSession(chatID int64) {
	b.mu.Lock()
	cs, ok := b.sessions[chatID]
	delete(b.sessions, chatID)
	b.mu.Unlock()
	if ok {
		cs.controller.Close()
	}
}

func (b *Bot) existingSession(chatID int64) *chatSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[chatID]
}

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic while handling update", "update_id", update.UpdateID, "panic", r)
		}
	}()

	switch {
	case update.Message != nil && update.Message.IsCommand():
		if err := b.HandleCommand(ctx, update.Message); err != nil {
			b.log.Error("failed to handle command", "command", update.Message.Command(), "error", err)
			b.sendText(update.Message.Chat.ID, "Something went wrong, please try again.", b.MainMenuButtons())
		}
	case update.Message != nil:
		b.sendText(update.Message.Chat.ID, "I don't understand. Use /help to see the commands.", b.MainMenuButtons())
	case update.CallbackQuery != nil:
		if err := b.HandleCallback(ctx, update.CallbackQuery); err != nil {
			b.log.Error("failed to handle callback", "data", update.CallbackQuery.Data, "error", err)
		}
	}
}
