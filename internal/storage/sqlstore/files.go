package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dripbot/internal/models"
)

// GetFileID returns the cached Telegram handle, or "" when none is stored
func (s *Store) GetFileID(ctx context.Context, botID, mediaFileID int64) (string, error) {
	var row models.BotFileID
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND media_file_id = ?", botID, mediaFileID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read file id: %w", err)
	}
	return row.FileID, nil
}

// SaveFileID stores or replaces the handle
func (s *Store) SaveFileID(ctx context.Context, botID, mediaFileID int64, fileID string) error {
	row := models.BotFileID{BotID: botID, MediaFileID: mediaFileID, FileID: fileID, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_id"}, {Name: "media_file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_id", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save file id: %w", err)
	}
	return nil
}

// DeleteFileID forgets a handle
func (s *Store) DeleteFileID(ctx context.Context, botID, mediaFileID int64) error {
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND media_file_id = ?", botID, mediaFileID).
		Delete(&models.BotFileID{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete file id: %w", err)
	}
	return nil
}
