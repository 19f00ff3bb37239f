package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"dripbot/internal/delivery"
	"dripbot/internal/models"
	"dripbot/internal/pagination"
	"dripbot/internal/storage"
	"dripbot/internal/telegram"
)

// Deps are the shared collaborators of every bot in the process
type Deps struct {
	Store     storage.Storage
	Files     storage.FileIDStore
	Guard     *pagination.Guard
	UploadDir string
	Transport telegram.Options
}

// New creates a router around already built parts
func New(id int64, api Client, engine Engine, store Store, logger *zap.Logger) *Bot {
	return &Bot{
		id:     id,
		api:    api,
		engine: engine,
		store:  store,
		logger: logger,
	}
}

// NewBot connects to Telegram with the bot's token and wires
// transport, delivery adapter and engine for it
func NewBot(record models.Bot, deps Deps, logger *zap.Logger) (*Bot, error) {
	logger = logger.With(zap.Int64("bot_id", record.ID))

	api, err := tgbotapi.NewBotAPI(record.Token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot %d: %w", record.ID, err)
	}

	opts := deps.Transport
	opts.Name = fmt.Sprintf("telegram-bot-%d", record.ID)
	transport := telegram.NewTransport(api, opts, logger)

	files := deps.Files
	if files == nil {
		files = deps.Store
	}
	adapter := delivery.NewAdapter(record.ID, transport, files, deps.UploadDir, logger)
	engine := pagination.NewEngine(record.ID, deps.Store, adapter, logger, pagination.WithGuard(deps.Guard))

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	return New(record.ID, api, engine, deps.Store, logger), nil
}

// ID returns the bot's database id
func (b *Bot) ID() int64 {
	return b.id
}
