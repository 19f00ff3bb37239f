package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"dripbot/internal/models"
	"dripbot/internal/pagination"
	"dripbot/internal/storage"
)

// Client is the subset of *tgbotapi.BotAPI the router uses
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Engine runs walkthroughs
type Engine interface {
	Start(ctx context.Context, chatID int64, who pagination.Identity, link models.InviteLink) (*models.UserSession, error)
	Advance(ctx context.Context, chatID, userID int64, t pagination.Token, ack func(text string)) error
}

// Store is what the router reads directly
type Store interface {
	storage.LinkStore
	StatsGroupID(ctx context.Context) (string, error)
}

// Bot routes the updates of one bot identity
type Bot struct {
	id     int64
	api    Client
	engine Engine
	store  Store
	logger *zap.Logger
}
