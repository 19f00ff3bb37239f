// Package telegram implements delivery.Transport on the Telegram Bot API.
// Every call is rate limited per bot and guarded by a circuit breaker.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dripbot/internal/delivery"
	"dripbot/internal/models"
)

// Client is the subset of *tgbotapi.BotAPI used for sending
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Options tune the outbound guards
type Options struct {
	Name          string
	RatePerSecond float64 // <= 0 disables limiting
	Burst         int
	// FailureThreshold consecutive server side failures open the breaker
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Transport sends messages through a Bot API client
type Transport struct {
	client  Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]tgbotapi.Message]
	logger  *zap.Logger
}

var _ delivery.Transport = (*Transport)(nil)

// NewTransport wraps client with rate limiting and a circuit breaker
func NewTransport(client Client, opts Options, logger *zap.Logger) *Transport {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]tgbotapi.Message](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Telegram circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isSuccessful,
	})

	return &Transport{
		client:  client,
		limiter: rate.NewLimiter(limit, opts.Burst),
		breaker: breaker,
		logger:  logger,
	}
}

// isSuccessful keeps client side API errors (bad file ids, blocked users) from tripping the breaker
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code > 0 && apiErr.Code < 500 && apiErr.Code != 429
	}
	return false
}

func (t *Transport) do(ctx context.Context, call func() ([]tgbotapi.Message, error)) ([]tgbotapi.Message, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return t.breaker.Execute(call)
}

func (t *Transport) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msgs, err := t.do(ctx, func() ([]tgbotapi.Message, error) {
		msg, err := t.client.Send(c)
		if err != nil {
			return nil, err
		}
		return []tgbotapi.Message{msg}, nil
	})
	if err != nil || len(msgs) == 0 {
		return tgbotapi.Message{}, err
	}
	return msgs[0], nil
}

// SendPhoto sends a photo and returns the largest size's file id
func (t *Transport) SendPhoto(ctx context.Context, chatID int64, photo delivery.Media, caption string, kb delivery.Keyboard) (string, error) {
	cfg := tgbotapi.NewPhoto(chatID, fileData(photo))
	cfg.Caption = caption
	if markup := Markup(kb); markup != nil {
		cfg.ReplyMarkup = *markup
	}

	msg, err := t.send(ctx, cfg)
	if err != nil {
		return "", err
	}
	return FileIDOf(msg), nil
}

// SendVideo sends a streamable video
func (t *Transport) SendVideo(ctx context.Context, chatID int64, video delivery.Media, caption string, kb delivery.Keyboard) (string, error) {
	cfg := tgbotapi.NewVideo(chatID, fileData(video))
	cfg.Caption = caption
	cfg.SupportsStreaming = true
	cfg.Duration = video.Duration
	if video.ThumbPath != "" && !video.Cached() {
		cfg.Thumb = tgbotapi.FilePath(video.ThumbPath)
	}
	if markup := Markup(kb); markup != nil {
		cfg.ReplyMarkup = *markup
	}

	msg, err := t.send(ctx, cfg)
	if err != nil {
		return "", err
	}
	return FileIDOf(msg), nil
}

// SendMediaGroup sends an album; only the first item carries the caption
func (t *Transport) SendMediaGroup(ctx context.Context, chatID int64, items []delivery.Media, caption string) ([]string, error) {
	media := make([]interface{}, 0, len(items))
	for i, item := range items {
		c := ""
		if i == 0 {
			c = caption
		}
		if item.Type == models.MediaVideo {
			v := tgbotapi.NewInputMediaVideo(fileData(item))
			v.Caption = c
			v.Duration = item.Duration
			v.Width = item.Width
			v.Height = item.Height
			v.SupportsStreaming = true
			media = append(media, v)
			continue
		}
		p := tgbotapi.NewInputMediaPhoto(fileData(item))
		p.Caption = c
		media = append(media, p)
	}

	msgs, err := t.do(ctx, func() ([]tgbotapi.Message, error) {
		return t.client.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media))
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = FileIDOf(msg)
	}
	return ids, nil
}

// SendText sends a plain text message
func (t *Transport) SendText(ctx context.Context, chatID int64, text string, kb delivery.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup := Markup(kb); markup != nil {
		msg.ReplyMarkup = *markup
	}
	_, err := t.send(ctx, msg)
	return err
}

// State returns the breaker state name
func (t *Transport) State() string {
	return t.breaker.State().String()
}

func fileData(m delivery.Media) tgbotapi.RequestFileData {
	if m.Cached() {
		return tgbotapi.FileID(m.FileID)
	}
	return tgbotapi.FilePath(m.Path)
}

// Markup converts a keyboard; nil when the keyboard is empty
func Markup(kb delivery.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		rows = append(rows, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// FileIDOf extracts the file handle Telegram issued for a media message
func FileIDOf(msg tgbotapi.Message) string {
	switch {
	case len(msg.Photo) > 0:
		return msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		return msg.Video.FileID
	case msg.Document != nil:
		return msg.Document.FileID
	}
	return ""
}
