package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dripbot/internal/models"
	"dripbot/internal/storage"
)

func orderedMedia(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC, id ASC")
}

// ContentBindings returns the walkthrough of a link with resources and media files
func (s *Store) ContentBindings(ctx context.Context, inviteLinkID int64) ([]models.ContentBinding, error) {
	var out []models.ContentBinding
	err := s.db.WithContext(ctx).
		Preload("Resource.MediaFiles", orderedMedia).
		Where("invite_link_id = ?", inviteLinkID).
		Order("sort_order ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load content bindings: %w", err)
	}
	return out, nil
}

// AdBindings returns the ad rotation of a link with resources and media files
func (s *Store) AdBindings(ctx context.Context, inviteLinkID int64) ([]models.AdBinding, error) {
	var out []models.AdBinding
	err := s.db.WithContext(ctx).
		Preload("Resource.MediaFiles", orderedMedia).
		Where("invite_link_id = ?", inviteLinkID).
		Order("sort_order ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load ad bindings: %w", err)
	}
	return out, nil
}

// rawSetting returns the stored JSON value of key, or nil when unset
func (s *Store) rawSetting(ctx context.Context, key string) ([]byte, error) {
	var setting models.SystemSetting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return []byte(setting.Value), nil
}

// SaveSetting stores value as JSON under key
func (s *Store) SaveSetting(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	row := models.SystemSetting{Key: key, Value: string(data), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// AdDisplaySeconds returns the pacing delay after an ad
func (s *Store) AdDisplaySeconds(ctx context.Context) (int, error) {
	raw, err := s.rawSetting(ctx, storage.SettingAdDisplaySeconds)
	if err != nil || raw == nil {
		return storage.DefaultAdDisplaySeconds, err
	}
	var seconds int
	if err := json.Unmarshal(raw, &seconds); err != nil {
		return storage.DefaultAdDisplaySeconds, fmt.Errorf("invalid %s: %w", storage.SettingAdDisplaySeconds, err)
	}
	return storage.ClampAdSeconds(seconds), nil
}

// EndContent returns the end-of-sequence message
func (s *Store) EndContent(ctx context.Context) (models.EndContent, error) {
	def := models.EndContent{Text: storage.DefaultEndText}
	raw, err := s.rawSetting(ctx, storage.SettingEndContent)
	if err != nil || raw == nil {
		return def, err
	}
	var end models.EndContent
	if err := json.Unmarshal(raw, &end); err != nil {
		return def, fmt.Errorf("invalid %s: %w", storage.SettingEndContent, err)
	}
	if strings.TrimSpace(end.Text) == "" {
		end.Text = def.Text
	}
	return end, nil
}

// StatsGroupID returns the statistics group chat id.
// Operators save it either as a JSON string or as a bare number.
func (s *Store) StatsGroupID(ctx context.Context) (string, error) {
	raw, err := s.rawSetting(ctx, storage.SettingStatsGroupID)
	if err != nil || raw == nil {
		return "", err
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str), nil
	}
	return strings.TrimSpace(string(raw)), nil
}

// InviteLinkByCode resolves a link code of a bot
func (s *Store) InviteLinkByCode(ctx context.Context, botID int64, code string) (*models.InviteLink, error) {
	var link models.InviteLink
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND code = ?", botID, code).
		First(&link).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &link, nil
}

// ActiveBots returns every bot flagged active
func (s *Store) ActiveBots(ctx context.Context) ([]models.Bot, error) {
	var out []models.Bot
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active bots: %w", err)
	}
	return out, nil
}
