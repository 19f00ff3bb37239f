package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Serve polls Telegram for updates until ctx is cancelled.
// Updates are handled concurrently so one slow walkthrough does not hold back other users.
func (b *Bot) Serve(ctx context.Context) error {
	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("Failed to delete webhook", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("Bot started successfully. Waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("bot %d: update channel closed", b.id)
			}
			go b.HandleUpdate(ctx, update)
		}
	}
}

// SetWebhook registers url as the bot's webhook
func (b *Bot) SetWebhook(url string) error {
	b.logger.Info("Setting up webhook", zap.String("webhook_url", url))

	webhookConfig, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	webhookConfig.MaxConnections = 40

	if _, err := b.api.Request(webhookConfig); err != nil {
		b.logger.Error("Failed to set webhook", zap.Error(err), zap.String("webhook_url", url))
		return err
	}

	b.logger.Info("Bot configured for webhook mode")
	return nil
}
