package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dripbot/internal/models"
	"dripbot/internal/storage"
)

// UpsertBotUser creates the user on first sight, otherwise refreshes it.
// The last used invite link is overwritten; the first one is kept.
func (s *Store) UpsertBotUser(ctx context.Context, user models.BotUser) (*models.BotUser, error) {
	now := time.Now().UTC()
	var out models.BotUser

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("telegram_id = ? AND bot_id = ?", user.TelegramID, user.BotID).First(&out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = models.BotUser{
				TelegramID:        user.TelegramID,
				BotID:             user.BotID,
				InviteLinkID:      user.InviteLinkID,
				FirstInviteLinkID: user.InviteLinkID,
				FirstName:         user.FirstName,
				LastName:          user.LastName,
				Username:          user.Username,
				FirstSeenAt:       now,
				LastSeenAt:        now,
			}
			return tx.Omit(clause.Associations).Create(&out).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"invite_link_id": user.InviteLinkID,
			"last_seen_at":   now,
		}
		if user.FirstName != "" {
			updates["first_name"] = user.FirstName
		}
		if user.LastName != "" {
			updates["last_name"] = user.LastName
		}
		if user.Username != "" {
			updates["username"] = user.Username
		}
		if err := tx.Model(&models.BotUser{}).Where("id = ?", out.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&out, out.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert bot user %d: %w", user.TelegramID, err)
	}
	return &out, nil
}

// ResetSession completes every open session of the user and opens a new one at index 0
func (s *Store) ResetSession(ctx context.Context, botUserID int64) (*models.UserSession, error) {
	now := time.Now().UTC()
	session := models.UserSession{BotUserID: botUserID, CreatedAt: now, UpdatedAt: now}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.UserSession{}).
			Where("bot_user_id = ? AND is_completed = ?", botUserID, false).
			Updates(map[string]interface{}{"is_completed": true, "updated_at": now}).Error
		if err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Create(&session).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset session for bot user %d: %w", botUserID, err)
	}
	return &session, nil
}

// GetSession loads a session with its owner and the owner's last invite link
func (s *Store) GetSession(ctx context.Context, sessionID int64) (*models.UserSession, error) {
	var session models.UserSession
	err := s.db.WithContext(ctx).
		Preload("BotUser.InviteLink").
		First(&session, sessionID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

// AdvanceSession moves currentIndex forward; a lower index is ignored
func (s *Store) AdvanceSession(ctx context.Context, sessionID int64, index int) error {
	res := s.db.WithContext(ctx).
		Model(&models.UserSession{}).
		Where("id = ? AND current_index <= ?", sessionID, index).
		Updates(map[string]interface{}{"current_index": index, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to advance session %d: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.UserSession{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}
	}
	return nil
}

// CompleteSession marks a session finished
func (s *Store) CompleteSession(ctx context.Context, sessionID int64) error {
	res := s.db.WithContext(ctx).
		Model(&models.UserSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{"is_completed": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to complete session %d: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordImpression appends an ad impression row
func (s *Store) RecordImpression(ctx context.Context, impression models.AdImpression) error {
	if impression.ViewedAt.IsZero() {
		impression.ViewedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&impression).Error; err != nil {
		return fmt.Errorf("failed to record ad impression: %w", err)
	}
	return nil
}

// FindBotUser loads a user with its last invite link
func (s *Store) FindBotUser(ctx context.Context, telegramID, botID int64) (*models.BotUser, error) {
	var user models.BotUser
	err := s.db.WithContext(ctx).
		Preload("InviteLink").
		Where("telegram_id = ? AND bot_id = ?", telegramID, botID).
		First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// OpenSessionCount returns how many sessions of the user are not completed
func (s *Store) OpenSessionCount(ctx context.Context, botUserID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.UserSession{}).
		Where("bot_user_id = ? AND is_completed = ?", botUserID, false).
		Count(&count).Error
	return count, err
}
