package storage

import (
	"context"
	"errors"

	"dripbot/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Setting keys in system_settings
const (
	SettingAdDisplaySeconds = "adDisplaySeconds"
	SettingEndContent       = "endContent"
	SettingStatsGroupID     = "statsGroupId"
)

// Setting defaults used when a key has never been saved
const (
	DefaultAdDisplaySeconds = 5
	DefaultEndText          = "Preview finished, thanks for watching!"
	MinAdDisplaySeconds     = 1
	MaxAdDisplaySeconds     = 60
)

// Directory is the read-only view of a link's content and the global settings
type Directory interface {
	// ContentBindings returns the link's walkthrough ordered by sort order,
	// each with its resource and media files loaded.
	ContentBindings(ctx context.Context, inviteLinkID int64) ([]models.ContentBinding, error)
	// AdBindings returns the link's ad rotation ordered by sort order.
	AdBindings(ctx context.Context, inviteLinkID int64) ([]models.AdBinding, error)

	// AdDisplaySeconds returns the pacing delay after an ad, clamped to 1..60
	AdDisplaySeconds(ctx context.Context) (int, error)
	EndContent(ctx context.Context) (models.EndContent, error)
	// StatsGroupID returns the chat id of the statistics group, or "" when unset
	StatsGroupID(ctx context.Context) (string, error)
}

// SessionStore persists end users, their walkthrough sessions and ad impressions
type SessionStore interface {
	// UpsertBotUser creates the user on first sight, otherwise refreshes
	// names, last-seen time and the last used invite link.
	UpsertBotUser(ctx context.Context, user models.BotUser) (*models.BotUser, error)
	// ResetSession completes every open session of the user and opens a new one at index 0.
	ResetSession(ctx context.Context, botUserID int64) (*models.UserSession, error)
	// GetSession loads a session with its BotUser, or ErrNotFound.
	GetSession(ctx context.Context, sessionID int64) (*models.UserSession, error)
	// AdvanceSession moves currentIndex forward. It never lowers it.
	AdvanceSession(ctx context.Context, sessionID int64, index int) error
	CompleteSession(ctx context.Context, sessionID int64) error

	RecordImpression(ctx context.Context, impression models.AdImpression) error
}

// LinkStore resolves invite links and known users for the router
type LinkStore interface {
	InviteLinkByCode(ctx context.Context, botID int64, code string) (*models.InviteLink, error)
	// FindBotUser loads a user with its last invite link, or ErrNotFound.
	FindBotUser(ctx context.Context, telegramID, botID int64) (*models.BotUser, error)
}

// FileIDStore is the persistent BotFileId cache
type FileIDStore interface {
	// GetFileID returns "" when nothing is cached
	GetFileID(ctx context.Context, botID, mediaFileID int64) (string, error)
	SaveFileID(ctx context.Context, botID, mediaFileID int64, fileID string) error
	DeleteFileID(ctx context.Context, botID, mediaFileID int64) error
}

// BotRegistry lists the bots that should be running
type BotRegistry interface {
	ActiveBots(ctx context.Context) ([]models.Bot, error)
}

// Storage is everything the bot runtime needs from the relational store
type Storage interface {
	Directory
	SessionStore
	LinkStore
	FileIDStore
	BotRegistry

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

// ClampAdSeconds keeps the pacing delay inside the allowed range
func ClampAdSeconds(seconds int) int {
	if seconds < MinAdDisplaySeconds {
		return MinAdDisplaySeconds
	}
	if seconds > MaxAdDisplaySeconds {
		return MaxAdDisplaySeconds
	}
	return seconds
}
