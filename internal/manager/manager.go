package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"dripbot/internal/bot"
	"dripbot/internal/metrics"
	"dripbot/internal/models"
	"dripbot/internal/storage"
)

// Runner is one running bot identity
type Runner interface {
	ID() int64
	Serve(ctx context.Context) error
	SetWebhook(url string) error
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Factory builds a Runner for a bot record
type Factory func(record models.Bot) (Runner, error)

// Options configure the manager
type Options struct {
	// ReloadInterval is how often the active bot list is re-read
	ReloadInterval time.Duration
	// SignalFile triggers an immediate reload when it appears. Empty disables it.
	SignalFile string
	// WebhookBaseURL switches bots to webhook mode when set
	WebhookBaseURL string
	// ShutdownTimeout bounds how long a stopping bot may take
	ShutdownTimeout time.Duration
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		ReloadInterval:  30 * time.Second,
		SignalFile:      ".bot-reload",
		ShutdownTimeout: 10 * time.Second,
	}
}

type entry struct {
	runner  Runner
	token   string
	secret  string
	service suture.ServiceToken
}

// Manager keeps one supervised service per active bot in sync with the database
type Manager struct {
	registry storage.BotRegistry
	factory  Factory
	opts     Options
	logger   *zap.Logger

	supervisor *suture.Supervisor
	reloadCh   chan struct{}

	mu      sync.RWMutex
	ctx     context.Context
	running map[int64]*entry
}

var _ bot.Dispatcher = (*Manager)(nil)

// New creates a manager; nothing runs until Serve
func New(registry storage.BotRegistry, factory Factory, opts Options, logger *zap.Logger) *Manager {
	defaults := DefaultOptions()
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = defaults.ReloadInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaults.ShutdownTimeout
	}

	supervisor := suture.New("bots", suture.Spec{
		EventHook: eventHook(logger),
		Timeout:   opts.ShutdownTimeout,
	})

	return &Manager{
		registry:   registry,
		factory:    factory,
		opts:       opts,
		logger:     logger,
		supervisor: supervisor,
		reloadCh:   make(chan struct{}, 1),
		running:    make(map[int64]*entry),
	}
}

// Serve runs the bots until ctx is cancelled
func (m *Manager) Serve(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	supervisorErr := m.supervisor.ServeBackground(ctx)

	if m.consumeSignal() {
		m.logger.Info("Reload signal present at startup")
	}
	m.reload(ctx)

	events, closeWatcher := m.watchSignal()
	defer closeWatcher()

	ticker := time.NewTicker(m.opts.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.running = make(map[int64]*entry)
			m.mu.Unlock()
			metrics.ActiveBots.Set(0)
			err := <-supervisorErr
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case <-ticker.C:
			// Covers a signal file created while the watcher was unavailable
			m.consumeSignal()
			m.reload(ctx)
		case <-m.reloadCh:
			m.reload(ctx)
		case <-events:
			if m.consumeSignal() {
				m.logger.Info("Reload signal received")
				m.reload(ctx)
			}
		}
	}
}

// Reload asks the running manager to re-read the bot list
func (m *Manager) Reload() {
	select {
	case m.reloadCh <- struct{}{}:
	default:
	}
}

// reload starts new bots, stops deactivated ones and restarts bots whose token changed
func (m *Manager) reload(ctx context.Context) {
	records, err := m.registry.ActiveBots(ctx)
	if err != nil {
		m.logger.Error("Failed to load active bots", zap.Error(err))
		return
	}

	wanted := make(map[int64]models.Bot, len(records))
	for _, r := range records {
		wanted[r.ID] = r
	}

	for id, e := range m.snapshot() {
		r, ok := wanted[id]
		switch {
		case !ok:
			m.logger.Info("Stopping deactivated bot", zap.Int64("bot_id", id))
			m.stop(id, e)
		case r.Token != e.token:
			m.logger.Info("Restarting bot with new token", zap.Int64("bot_id", id))
			m.stop(id, e)
		}
	}

	for _, r := range records {
		m.mu.RLock()
		_, ok := m.running[r.ID]
		m.mu.RUnlock()
		if ok {
			continue
		}
		m.start(r)
	}

	m.mu.RLock()
	metrics.ActiveBots.Set(float64(len(m.running)))
	m.mu.RUnlock()
}

func (m *Manager) start(record models.Bot) {
	runner, err := m.factory(record)
	if err != nil {
		m.logger.Error("Failed to start bot", zap.Error(err), zap.Int64("bot_id", record.ID))
		return
	}

	svc := &botService{runner: runner}
	if m.opts.WebhookBaseURL != "" {
		svc.webhookURL = bot.WebhookURL(m.opts.WebhookBaseURL, record.ID, record.Token)
	}

	e := &entry{
		runner:  runner,
		token:   record.Token,
		secret:  bot.WebhookSecret(record.Token),
		service: m.supervisor.Add(svc),
	}

	m.mu.Lock()
	m.running[record.ID] = e
	m.mu.Unlock()

	m.logger.Info("Bot started", zap.Int64("bot_id", record.ID), zap.String("bot_name", record.Name))
}

func (m *Manager) stop(id int64, e *entry) {
	m.mu.Lock()
	delete(m.running, id)
	m.mu.Unlock()

	if err := m.supervisor.RemoveAndWait(e.service, m.opts.ShutdownTimeout); err != nil {
		m.logger.Warn("Bot did not stop cleanly", zap.Error(err), zap.Int64("bot_id", id))
	}
}

func (m *Manager) snapshot() map[int64]*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64]*entry, len(m.running))
	for id, e := range m.running {
		out[id] = e
	}
	return out
}

// Running returns the ids of running bots in ascending order
func (m *Manager) Running() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Secret returns the webhook path secret of a running bot
func (m *Manager) Secret(botID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.running[botID]
	if !ok {
		return "", false
	}
	return e.secret, true
}

// Dispatch hands a webhook update to a running bot
func (m *Manager) Dispatch(botID int64, update tgbotapi.Update) bool {
	m.mu.RLock()
	e, ok := m.running[botID]
	ctx := m.ctx
	m.mu.RUnlock()

	if !ok || ctx == nil {
		return false
	}
	go e.runner.HandleUpdate(ctx, update)
	return true
}

// consumeSignal removes the signal file and reports whether it existed
func (m *Manager) consumeSignal() bool {
	if m.opts.SignalFile == "" {
		return false
	}
	err := os.Remove(m.opts.SignalFile)
	if err == nil {
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("Failed to remove reload signal file", zap.Error(err), zap.String("path", m.opts.SignalFile))
	}
	return false
}

// watchSignal watches the signal file's directory. The returned channel
// fires on create or write of the signal file and is nil when watching is unavailable.
func (m *Manager) watchSignal() (<-chan struct{}, func()) {
	if m.opts.SignalFile == "" {
		return nil, func() {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("Failed to create file watcher, relying on periodic reload", zap.Error(err))
		return nil, func() {}
	}

	target := filepath.Clean(m.opts.SignalFile)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		m.logger.Warn("Failed to watch reload signal directory", zap.Error(err), zap.String("path", target))
		watcher.Close()
		return nil, func() {}
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
					select {
					case out <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("File watcher error", zap.Error(err))
			}
		}
	}()

	return out, func() {
		close(done)
		watcher.Close()
	}
}
