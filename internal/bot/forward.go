package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"dripbot/internal/models"
	"dripbot/internal/storage"
)

const (
	hiddenOriginText = "This user hides the forward origin"
	unknownUserText  = "No record of this user"
	timeLayout       = "2006-01-02 15:04:05"
)

// handleForward answers a message forwarded into the statistics group
// with what the bot knows about its original sender
func (b *Bot) handleForward(ctx context.Context, message *tgbotapi.Message) {
	groupID, err := b.store.StatsGroupID(ctx)
	if err != nil {
		b.logger.Error("Failed to read stats group id", zap.Error(err))
		return
	}
	if groupID == "" || formatChatID(message.Chat.ID) != groupID {
		return
	}

	if message.ForwardFrom == nil {
		b.reply(message, hiddenOriginText)
		return
	}

	user, err := b.store.FindBotUser(ctx, message.ForwardFrom.ID, b.id)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(message, unknownUserText)
		return
	}
	if err != nil {
		b.logger.Error("Failed to look up forwarded user", zap.Error(err), zap.Int64("telegram_id", message.ForwardFrom.ID))
		return
	}

	b.reply(message, FormatUserSummary(user))
}

// FormatUserSummary renders a bot user for the statistics group
func FormatUserSummary(user *models.BotUser) string {
	name := strings.TrimSpace(strings.Join([]string{user.FirstName, user.LastName}, " "))
	if name == "" {
		name = "unknown"
	}
	username := "none"
	if user.Username != "" {
		username = "@" + user.Username
	}
	source := "unknown"
	if user.InviteLink.ID != 0 {
		source = fmt.Sprintf("%s (%s)", user.InviteLink.Name, user.InviteLink.Code)
	}

	lines := []string{
		"User info:",
		fmt.Sprintf("ID: %d", user.TelegramID),
		"Name: " + name,
		"Username: " + username,
		"Source link: " + source,
		"First seen: " + user.FirstSeenAt.Format(timeLayout),
		"Last seen: " + user.LastSeenAt.Format(timeLayout),
	}
	return strings.Join(lines, "\n")
}

// reply sends text as a reply in the message's thread
func (b *Bot) reply(message *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	b.sendMessage(msg)
}

func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) {
	if b.api == nil {
		return // For testing
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Error(err), zap.Int64("chat_id", msg.ChatID))
	}
}

func (b *Bot) answerCallback(id, text string) {
	if b.api == nil {
		return // For testing
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}
