package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dripbot/internal/models"
)

// ImpressionSink receives a copy of every recorded ad impression (analytics store)
type ImpressionSink interface {
	WriteImpression(ctx context.Context, impression models.AdImpression) error
	Close() error
}

type mirrored struct {
	Storage
	sink   ImpressionSink
	logger *zap.Logger
}

// WithImpressionMirror copies impressions to sink after the primary store accepted them.
// Sink failures are logged and never fail the caller.
func WithImpressionMirror(primary Storage, sink ImpressionSink, logger *zap.Logger) Storage {
	return &mirrored{Storage: primary, sink: sink, logger: logger}
}

func (m *mirrored) RecordImpression(ctx context.Context, impression models.AdImpression) error {
	if impression.ViewedAt.IsZero() {
		impression.ViewedAt = time.Now().UTC()
	}
	if err := m.Storage.RecordImpression(ctx, impression); err != nil {
		return err
	}
	if err := m.sink.WriteImpression(ctx, impression); err != nil {
		m.logger.Warn("Failed to mirror ad impression",
			zap.Error(err),
			zap.Int64("ad_binding_id", impression.AdBindingID),
			zap.Int64("telegram_id", impression.TelegramID),
		)
	}
	return nil
}

func (m *mirrored) Close() error {
	if err := m.sink.Close(); err != nil {
		m.logger.Warn("Failed to close impression sink", zap.Error(err))
	}
	return m.Storage.Close()
}
