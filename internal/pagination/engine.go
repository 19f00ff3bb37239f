// Package pagination drives drip walkthroughs: one content item per Next press,
// with a paced advertisement before each item after the first.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dripbot/internal/delivery"
	"dripbot/internal/metrics"
	"dripbot/internal/models"
	"dripbot/internal/storage"
)

// ErrSessionBusy is returned when an advance for the same session is already running
var ErrSessionBusy = errors.New("session is being processed")

// Sender delivers resources and texts to a chat
type Sender interface {
	SendResource(ctx context.Context, chatID int64, res models.Resource, kb delivery.Keyboard) error
	SendText(ctx context.Context, chatID int64, text string, kb delivery.Keyboard) error
}

// Store is what the engine reads and writes
type Store interface {
	storage.Directory
	storage.SessionStore
}

// Identity is the Telegram user starting a walkthrough
type Identity struct {
	TelegramID int64
	FirstName  string
	LastName   string
	Username   string
}

// WaitFunc blocks for d or until ctx is done
type WaitFunc func(ctx context.Context, d time.Duration) error

// Engine runs walkthroughs for one bot identity
type Engine struct {
	botID  int64
	store  Store
	sender Sender
	guard  *Guard
	texts  Texts
	wait   WaitFunc
	logger *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithGuard shares a guard between engines of the same process
func WithGuard(g *Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithTexts replaces the user facing texts
func WithTexts(t Texts) Option {
	return func(e *Engine) { e.texts = t }
}

// WithWait replaces the ad pacing wait
func WithWait(w WaitFunc) Option {
	return func(e *Engine) { e.wait = w }
}

// NewEngine creates an engine for botID
func NewEngine(botID int64, store Store, sender Sender, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		botID:  botID,
		store:  store,
		sender: sender,
		texts:  DefaultTexts(),
		wait:   sleep,
		logger: logger.With(zap.Int64("bot_id", botID)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.guard == nil {
		e.guard = NewGuard()
	}
	return e
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Control builds the Next button for token
func (e *Engine) Control(t Token) delivery.Keyboard {
	return delivery.CallbackKeyboard(e.texts.Next, t.String())
}

// Start opens a new walkthrough of link for who and delivers the first item.
// A link without content is a silent no-op and returns a nil session.
func (e *Engine) Start(ctx context.Context, chatID int64, who Identity, link models.InviteLink) (*models.UserSession, error) {
	contents, err := e.store.ContentBindings(ctx, link.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content of link %d: %w", link.ID, err)
	}
	step := Enter(len(contents))
	if !step.Deliver {
		e.logger.Debug("Invite link has no content", zap.Int64("invite_link_id", link.ID))
		return nil, nil
	}

	user, err := e.store.UpsertBotUser(ctx, models.BotUser{
		TelegramID:   who.TelegramID,
		BotID:        e.botID,
		InviteLinkID: link.ID,
		FirstName:    who.FirstName,
		LastName:     who.LastName,
		Username:     who.Username,
	})
	if err != nil {
		return nil, err
	}
	session, err := e.store.ResetSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	metrics.SessionsStarted.WithLabelValues(strconv.FormatInt(e.botID, 10)).Inc()

	logger := e.logger.With(
		zap.Int64("session_id", session.ID),
		zap.Int64("telegram_id", who.TelegramID),
		zap.Int64("invite_link_id", link.ID),
	)
	logger.Info("Walkthrough started", zap.Int("items", len(contents)))

	var kb delivery.Keyboard
	if step.WithControl {
		kb = e.Control(Token{SessionID: session.ID, NextIndex: 1})
	}
	e.deliver(ctx, chatID, contents[0].Resource, kb, logger)

	if step.Finish {
		e.finish(ctx, chatID, session.ID, logger)
		session.IsCompleted = true
	}
	return session, nil
}

// Advance handles a Next press carrying t from user userID in chatID.
// ack is called once: with an empty text when processing starts, or with
// the busy text when another advance of the session is running.
func (e *Engine) Advance(ctx context.Context, chatID, userID int64, t Token, ack func(text string)) error {
	if ack == nil {
		ack = func(string) {}
	}

	release, ok := e.guard.TryAcquire(t.SessionID)
	if !ok {
		metrics.Advances.WithLabelValues("busy").Inc()
		ack(e.texts.Processing)
		return ErrSessionBusy
	}
	defer release()

	ack("")

	result, err := e.advance(ctx, chatID, userID, t)
	if err != nil {
		result = "error"
	}
	metrics.Advances.WithLabelValues(result).Inc()
	return err
}

func (e *Engine) advance(ctx context.Context, chatID, userID int64, t Token) (string, error) {
	logger := e.logger.With(zap.Int64("session_id", t.SessionID), zap.Int("next_index", t.NextIndex))

	session, err := e.store.GetSession(ctx, t.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Debug("Advance for unknown session")
		return "stale", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session %d: %w", t.SessionID, err)
	}
	owner := session.BotUser
	if owner.BotID != e.botID || owner.TelegramID != userID {
		logger.Warn("Advance for a session owned by someone else", zap.Int64("user_id", userID))
		return "stale", nil
	}
	if session.IsCompleted {
		return "stale", nil
	}

	contents, err := e.store.ContentBindings(ctx, owner.InviteLinkID)
	if err != nil {
		return "", fmt.Errorf("failed to load content of link %d: %w", owner.InviteLinkID, err)
	}
	ads, err := e.store.AdBindings(ctx, owner.InviteLinkID)
	if err != nil {
		return "", fmt.Errorf("failed to load ads of link %d: %w", owner.InviteLinkID, err)
	}

	step := Advance(StateOf(session), t.NextIndex, len(contents), len(ads))
	if step.Noop() {
		logger.Debug("Replayed advance ignored", zap.Int("current_index", session.CurrentIndex))
		return "stale", nil
	}

	if step.ShowAd {
		e.showAd(ctx, chatID, session, ads[step.AdIndex], logger)
	}

	if step.Deliver {
		if err := e.store.AdvanceSession(ctx, session.ID, t.NextIndex); err != nil {
			return "", fmt.Errorf("failed to advance session %d: %w", session.ID, err)
		}

		var kb delivery.Keyboard
		if step.WithControl {
			kb = e.Control(Token{SessionID: session.ID, NextIndex: t.NextIndex + 1})
		}
		e.deliver(ctx, chatID, contents[t.NextIndex].Resource, kb, logger)
	}

	if step.Finish {
		e.finish(ctx, chatID, session.ID, logger)
		return "completed", nil
	}
	return "delivered", nil
}

// deliver sends a content item. On failure the user gets a notice that keeps the control.
func (e *Engine) deliver(ctx context.Context, chatID int64, res models.Resource, kb delivery.Keyboard, logger *zap.Logger) {
	err := e.sender.SendResource(ctx, chatID, res, kb)
	if err == nil {
		return
	}
	logger.Error("Failed to deliver content", zap.Int64("resource_id", res.ID), zap.Error(err))
	if err := e.sender.SendText(ctx, chatID, e.texts.ItemFailed, kb); err != nil {
		logger.Error("Failed to send failure notice", zap.Error(err))
	}
}

// showAd sends an ad, logs the impression and waits the pacing delay.
// Ad failures never stop the walkthrough.
func (e *Engine) showAd(ctx context.Context, chatID int64, session *models.UserSession, ad models.AdBinding, logger *zap.Logger) {
	logger = logger.With(zap.Int64("ad_binding_id", ad.ID))

	seconds, err := e.store.AdDisplaySeconds(ctx)
	if err != nil {
		logger.Warn("Failed to read ad display seconds, using default", zap.Error(err))
		seconds = storage.DefaultAdDisplaySeconds
	}
	seconds = storage.ClampAdSeconds(seconds)

	if err := e.sender.SendResource(ctx, chatID, ad.Resource, delivery.LinkKeyboard(ad.Buttons)); err != nil {
		logger.Warn("Failed to send ad, continuing", zap.Error(err))
		return
	}

	err = e.store.RecordImpression(ctx, models.AdImpression{
		BotID:        e.botID,
		InviteLinkID: session.BotUser.InviteLinkID,
		AdBindingID:  ad.ID,
		TelegramID:   session.BotUser.TelegramID,
		ViewedAt:     time.Now().UTC(),
	})
	if err != nil {
		logger.Error("Failed to record ad impression", zap.Error(err))
	}
	metrics.AdImpressions.WithLabelValues(strconv.FormatInt(e.botID, 10)).Inc()

	if err := e.sender.SendText(ctx, chatID, fmt.Sprintf(e.texts.AdCountdown, seconds), nil); err != nil {
		logger.Warn("Failed to send ad countdown", zap.Error(err))
	}
	if err := e.wait(ctx, time.Duration(seconds)*time.Second); err != nil {
		logger.Debug("Ad wait interrupted", zap.Error(err))
	}
}

// finish completes the session and sends the end message
func (e *Engine) finish(ctx context.Context, chatID, sessionID int64, logger *zap.Logger) {
	if err := e.store.CompleteSession(ctx, sessionID); err != nil {
		logger.Error("Failed to complete session", zap.Error(err))
	}
	metrics.SessionsCompleted.Inc()

	end, err := e.store.EndContent(ctx)
	if err != nil {
		logger.Warn("Failed to read end content, using default", zap.Error(err))
		end = models.EndContent{Text: storage.DefaultEndText}
	}
	if err := e.sender.SendText(ctx, chatID, end.Text, delivery.LinkKeyboard(end.Buttons)); err != nil {
		logger.Error("Failed to send end message", zap.Error(err))
	}
	logger.Info("Walkthrough completed")
}
