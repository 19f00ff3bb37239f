package bot

import (
	"context"
	"errors"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"dripbot/internal/metrics"
	"dripbot/internal/pagination"
)

// HandleUpdate processes a single update from polling or webhook.
// A panic in a handler is logged and never escapes.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		metrics.UpdatesHandled.WithLabelValues("message").Inc()
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		metrics.UpdatesHandled.WithLabelValues("callback").Inc()
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	default:
		metrics.UpdatesHandled.WithLabelValues("ignored").Inc()
	}
}

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.Int64("chat_id", chatIDOf(message)),
			)
		}
	}()

	if message.From == nil || message.Chat == nil {
		return
	}

	if message.IsCommand() {
		if message.Command() == "start" && message.Chat.IsPrivate() {
			b.handleStart(ctx, message)
		}
		return
	}

	if isForwarded(message) {
		b.handleForward(ctx, message)
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	answered := false
	answer := func(text string) {
		if answered {
			return
		}
		answered = true
		b.answerCallback(query.ID, text)
	}

	// Recover from panics; the loading indicator is cleared either way
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery",
				zap.Any("panic", r),
				zap.String("callback_data", query.Data),
			)
		}
		answer("")
	}()

	token, err := pagination.ParseToken(query.Data)
	if err != nil {
		metrics.Advances.WithLabelValues("invalid").Inc()
		b.logger.Debug("Ignoring unknown callback data", zap.String("callback_data", query.Data))
		return
	}
	if query.From == nil || query.Message == nil || query.Message.Chat == nil {
		return
	}

	err = b.engine.Advance(ctx, query.Message.Chat.ID, query.From.ID, token, answer)
	switch {
	case err == nil, errors.Is(err, pagination.ErrSessionBusy):
	default:
		b.logger.Error("Failed to advance walkthrough",
			zap.Error(err),
			zap.Int64("session_id", token.SessionID),
			zap.Int("next_index", token.NextIndex),
			zap.Int64("user_id", query.From.ID),
		)
	}
}

func isForwarded(message *tgbotapi.Message) bool {
	return message.ForwardDate != 0 || message.ForwardFrom != nil || message.ForwardFromChat != nil || message.ForwardSenderName != ""
}

func chatIDOf(message *tgbotapi.Message) int64 {
	if message == nil || message.Chat == nil {
		return 0
	}
	return message.Chat.ID
}

func formatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
