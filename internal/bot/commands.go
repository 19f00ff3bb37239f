package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"dripbot/internal/pagination"
	"dripbot/internal/storage"
)

// handleStart opens a walkthrough for the invite code in the /start payload.
// A missing or unknown code is ignored without a reply.
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	code := strings.TrimSpace(message.CommandArguments())
	if code == "" {
		return
	}

	link, err := b.store.InviteLinkByCode(ctx, b.id, code)
	if errors.Is(err, storage.ErrNotFound) {
		b.logger.Debug("Unknown invite code", zap.String("code", code))
		return
	}
	if err != nil {
		b.logger.Error("Failed to resolve invite code", zap.Error(err), zap.String("code", code))
		return
	}

	from := message.From
	_, err = b.engine.Start(ctx, message.Chat.ID, pagination.Identity{
		TelegramID: from.ID,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
		Username:   from.UserName,
	}, *link)
	if err != nil {
		b.logger.Error("Failed to start walkthrough",
			zap.Error(err),
			zap.Int64("user_id", from.ID),
			zap.Int64("invite_link_id", link.ID),
		)
	}
}
