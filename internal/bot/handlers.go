package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/tradeprep/internal/database"
	"github.com/example/tradeprep/internal/session"
	"github.com/example/tradeprep/pkg/models"
)

const helpText = `Trade exam practice with spaced repetition.

/categories - pick a category to practice
/practice <category> - start practicing a category
/stats [category] - show your progress
/history - your recent sessions
/notify on|off|<hour> - daily review reminders (hour is UTC)
/remind - check for due items now
/reset confirm - forget all of your progress
/help - show this message`

const historyLimit = 10

// HandleCommand dispatches a slash command
func (b *Bot) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	switch message.Command() {
	case "start", "help":
		return b.handleStart(ctx, message)
	case "categories", "menu":
		return b.showCategories(ctx, message.Chat.ID)
	case "practice":
		return b.handlePractice(ctx, message)
	case "stats":
		return b.handleStats(ctx, message)
	case "history":
		return b.handleHistory(ctx, message)
	case "notify":
		return b.handleNotifyCommand(ctx, message)
	case "remind":
		return b.handleRemind(ctx, message)
	case "reset":
		return b.handleReset(ctx, message)
	case "admin":
		return b.handleAdminCommand(ctx, message)
	default:
		b.sendText(message.Chat.ID, "Unknown command. Use /help to see the commands.", b.MainMenuButtons())
		return nil
	}
}

func (b *Bot) userFor(ctx context.Context, from *tgbotapi.User) (*models.User, error) {
	if from == nil {
		return nil, errors.New("message has no sender")
	}
	user, err := b.deps.Users.GetOrCreateByTelegramID(ctx, from.ID, from.UserName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return user, nil
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) error {
	if _, err := b.userFor(ctx, message.From); err != nil {
		return err
	}
	b.sendText(message.Chat.ID, helpText, b.MainMenuButtons())
	return nil
}

func (b *Bot) showCategories(ctx context.Context, chatID int64) error {
	categories, err := b.deps.Catalog.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("failed to list categories: %w", err)
	}
	if len(categories) == 0 {
		b.sendText(chatID, "No questions have been loaded yet.", nil)
		return nil
	}
	b.sendText(chatID, "Choose a category:", categoryButtons(categories))
	return nil
}

func (b *Bot) handlePractice(ctx context.Context, message *tgbotapi.Message) error {
	category := strings.TrimSpace(message.CommandArguments())
	if category == "" {
		return b.showCategories(ctx, message.Chat.ID)
	}
	user, err := b.userFor(ctx, message.From)
	if err != nil {
		return err
	}
	b.startPractice(ctx, message.Chat.ID, user, category)
	return nil
}

// startPractice loads category into the chat's session and shows the first question
func (b *Bot) startPractice(ctx context.Context, chatID int64, user *models.User, category string) {
	cs := b.chatSessionFor(chatID, user)
	view, err := cs.controller.Start(ctx, category)
	if errors.Is(err, session.ErrSuperseded) {
		return
	}

	b.mu.Lock()
	cs.recorded = false
	b.mu.Unlock()

	switch view.State {
	case session.Errored:
		retry := [][]MenuButton{{{Text: "🔄 Retry", CallbackData: callbackCategory + category}}}
		b.sendText(chatID, "Couldn't load questions for "+category+". Please try again.", retry)
	case session.Complete:
		b.sendText(chatID, summaryText(cs.controller.Summary()), b.MainMenuButtons())
	default:
		b.sendQuestion(chatID, view)
	}
}

func (b *Bot) sendQuestion(chatID int64, view session.View) {
	b.sendText(chatID, questionText(view), questionButtons(view))
}

func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) error {
	user, err := b.userFor(ctx, message.From)
	if err != nil {
		return err
	}

	var stats []models.CategoryStats
	if category := strings.TrimSpace(message.CommandArguments()); category != "" {
		s, err := b.deps.Stats.CategoryStats(ctx, user.ID, category, b.now())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
		stats = append(stats, *s)
	} else if stats, err = b.deps.Stats.AllCategoryStats(ctx, user.ID, b.now()); err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	b.sendText(message.Chat.ID, statsText(stats), b.MainMenuButtons())
	return nil
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) error {
	user, err := b.userFor(ctx, message.From)
	if err != nil {
		return err
	}
	results, err := b.deps.Results.ListByUser(ctx, user.ID, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}
	b.sendText(message.Chat.ID, historyText(results), b.MainMenuButtons())
	return nil
}

func (b *Bot) handleRemind(ctx context.Context, message *tgbotapi.Message) error {
	rc := b.reminderChecker()
	if rc == nil {
		b.sendText(message.Chat.ID, "Reminders are not running.", nil)
		return nil
	}
	user, err := b.userFor(ctx, message.From)
	if err != nil {
		return err
	}
	sent, err := rc.RunManualCheck(ctx, *user)
	if err != nil {
		return fmt.Errorf("failed to check reminders: %w", err)
	}
	if !sent {
		b.sendText(message.Chat.ID, "Nothing is due right now. 👍", b.MainMenuButtons())
	}
	return nil
}

func (b *Bot) handleReset(ctx context.Context, message *tgbotapi.Message) error {
	if strings.TrimSpace(message.CommandArguments()) != "confirm" {
		b.sendText(message.Chat.ID, "This forgets every answer you have given. Send /reset confirm to go ahead.", nil)
		return nil
	}
	user, err := b.userFor(ctx, message.From)
	if err != nil {
		return err
	}

	// flush the running session first so none of its writes land after the reset
	b.endSession(message.Chat.ID)
	if err := b.deps.Progress.DeleteForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	b.log.Info("progress reset", "user_id", user.ID)
	b.sendText(message.Chat.ID, "✅ Your progress has been reset.", b.MainMenuButtons())
	return nil
}

func (b *Bot) handleNotifyCommand(ctx context.Context, message *tgbotapi.Message) error {
	user, err := b.userFor(ctx, message.From)
	if err != nil {
		return err
	}

	args := message.CommandArguments()
	if strings.TrimSpace(args) == "" {
		b.sendText(message.Chat.ID, fmt.Sprintf("Reminders are %s at %02d:00 UTC.\nUsage: /notify on|off|<hour>",
			boolToEnabledString(user.NotificationEnabled), user.NotificationHour), nil)
		return nil
	}

	enabled, hour, err := parseNotifyArgs(args, *user)
	if err != nil {
		b.sendText(message.Chat.ID, "Usage: /notify on|off|<hour 0-23>", nil)
		return nil
	}
	if err := b.deps.Users.UpdateNotifications(ctx, user.ID, enabled, hour); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	b.sendText(message.Chat.ID, fmt.Sprintf("✅ Reminders %s at %02d:00 UTC", boolToEnabledString(enabled), hour), nil)
	return nil
}

func (b *Bot) handleAdminCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil || !b.isAdmin(message.From.ID) {
		b.sendText(message.Chat.ID, "This command is only available for administrators.", b.MainMenuButtons())
		return nil
	}

	sub, id, _ := strings.Cut(strings.TrimSpace(message.CommandArguments()), " ")
	id = strings.TrimSpace(id)
	switch {
	case sub == "":
		b.mu.Lock()
		n := len(b.sessions)
		b.mu.Unlock()
		b.sendText(message.Chat.ID, fmt.Sprintf("Active chat sessions: %d\n\n/admin item <id>\n/admin delete <id>", n), nil)
	case sub == "item" && id != "":
		item, err := b.deps.Catalog.GetByID(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			b.sendText(message.Chat.ID, "No item "+id, nil)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get item: %w", err)
		}
		b.sendText(message.Chat.ID, itemText(item), nil)
	case sub == "delete" && id != "":
		err := b.deps.Catalog.Delete(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			b.sendText(message.Chat.ID, "No item "+id, nil)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		b.log.Info("item deleted by admin", "item_id", id, "admin_id", message.From.ID)
		b.sendText(message.Chat.ID, "🗑 Deleted "+id, nil)
	default:
		b.sendText(message.Chat.ID, "Usage: /admin [item <id> | delete <id>]", nil)
	}
	return nil
}

// HandleCallback handles inline keyboard presses
func (b *Bot) HandleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if callback.Message == nil {
		return b.ack(callback, "")
	}
	chatID := callback.Message.Chat.ID
	data := callback.Data

	switch {
	case data == callbackMenu:
		if err := b.ack(callback, ""); err != nil {
			return err
		}
		return b.showCategories(ctx, chatID)

	case strings.HasPrefix(data, callbackCategory):
		if err := b.ack(callback, ""); err != nil {
			return err
		}
		user, err := b.userFor(ctx, callback.From)
		if err != nil {
			return err
		}
		b.startPractice(ctx, chatID, user, strings.TrimPrefix(data, callbackCategory))
		return nil

	case strings.HasPrefix(data, callbackAnswer):
		ref, option, err := parseAnswerData(data)
		if err != nil {
			return b.ack(callback, "Unknown option")
		}
		return b.handleAnswer(ctx, callback, chatID, ref, option)

	case data == callbackNext:
		return b.handleNext(ctx, callback, chatID)

	default:
		return b.ack(callback, "Unknown action")
	}
}

func (b *Bot) ack(callback *tgbotapi.CallbackQuery, text string) error {
	if _, err := b.client().Request(tgbotapi.NewCallback(callback.ID, text)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// handleAnswer grades a button press. ref names the question the keyboard belonged to;
// presses on keyboards of earlier questions are turned away.
func (b *Bot) handleAnswer(ctx context.Context, callback *tgbotapi.CallbackQuery, chatID int64, ref string, option int) error {
	cs := b.existingSession(chatID)
	if cs == nil {
		b.sendText(chatID, "This session has ended.", b.MainMenuButtons())
		return b.ack(callback, "")
	}

	item := cs.controller.View().Current
	if item == nil || itemRef(item.ID) != ref {
		return b.ack(callback, "This question has passed")
	}
	res, err := cs.controller.AnswerItem(item.ID, option)
	switch {
	case errors.Is(err, session.ErrStaleAnswer):
		return b.ack(callback, "This question has passed")
	case errors.Is(err, session.ErrInvalidTransition):
		return b.ack(callback, "Already answered")
	case errors.Is(err, session.ErrOptionOutOfRange):
		return b.ack(callback, "Unknown option")
	case err != nil:
		return err
	}

	if err := b.ack(callback, ""); err != nil {
		return err
	}
	b.sendText(chatID, answerText(item, res), [][]MenuButton{{{Text: "Next ▶", CallbackData: callbackNext}}})
	return nil
}

func (b *Bot) handleNext(ctx context.Context, callback *tgbotapi.CallbackQuery, chatID int64) error {
	cs := b.existingSession(chatID)
	if cs == nil {
		b.sendText(chatID, "This session has ended.", b.MainMenuButtons())
		return b.ack(callback, "")
	}

	view, err := cs.controller.Advance()
	if errors.Is(err, session.ErrInvalidTransition) {
		return b.ack(callback, "")
	}
	if err != nil {
		return err
	}
	if err := b.ack(callback, ""); err != nil {
		return err
	}

	if view.State == session.Complete {
		result := cs.controller.Summary()
		b.recordResult(ctx, cs, result)
		b.sendText(chatID, summaryText(result), b.MainMenuButtons())
		return nil
	}
	b.sendQuestion(chatID, view)
	return nil
}

func (b *Bot) recordResult(ctx context.Context, cs *chatSession, result models.SessionResult) {
	b.mu.Lock()
	if cs.recorded || b.deps.Results == nil {
		b.mu.Unlock()
		return
	}
	cs.recorded = true
	b.mu.Unlock()

	if err := b.deps.Results.Create(ctx, &result); err != nil {
		b.log.Error("failed to record session result", "user_id", result.UserID, "error", err)
	}
}
