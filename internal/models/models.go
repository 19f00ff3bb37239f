package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// ResourceType is the kind of a deliverable resource
type ResourceType string

const (
	ResourcePhoto      ResourceType = "photo"
	ResourceVideo      ResourceType = "video"
	ResourceMediaGroup ResourceType = "media_group"
)

// MediaType is the kind of a single media file
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
)

// Bot is a Telegram bot identity managed by the operators
type Bot struct {
	ID        int64 `gorm:"primaryKey"`
	Token     string
	Name      string
	Username  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Bot) TableName() string { return "bots" }

// InviteLink is a coded entry point (t.me/<bot>?start=<code>)
type InviteLink struct {
	ID        int64 `gorm:"primaryKey"`
	BotID     int64
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (InviteLink) TableName() string { return "invite_links" }

// ResourceGroup is an operator-side folder for resources
type ResourceGroup struct {
	ID        int64 `gorm:"primaryKey"`
	Name      string
	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ResourceGroup) TableName() string { return "resource_groups" }

// Resource is a photo, a video or an album
type Resource struct {
	ID         int64 `gorm:"primaryKey"`
	GroupID    *int64
	Type       ResourceType
	Caption    string
	MediaFiles []MediaFile `gorm:"foreignKey:ResourceID"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Resource) TableName() string { return "resources" }

// MediaFile is one binary payload stored on local disk
type MediaFile struct {
	ID            int64 `gorm:"primaryKey"`
	ResourceID    int64
	Type          MediaType
	FilePath      string
	FileName      string
	MimeType      string
	FileSize      int64
	SortOrder     int
	Duration      *int
	Width         *int
	Height        *int
	ThumbnailPath string
}

func (MediaFile) TableName() string { return "media_files" }

// ContentBinding places a resource at a position of a link's walkthrough
type ContentBinding struct {
	ID           int64 `gorm:"primaryKey"`
	InviteLinkID int64
	ResourceID   int64
	SortOrder    int
	Resource     Resource
}

func (ContentBinding) TableName() string { return "content_bindings" }

// AdBinding places an advertisement resource in a link's ad rotation
type AdBinding struct {
	ID           int64 `gorm:"primaryKey"`
	InviteLinkID int64
	ResourceID   int64
	SortOrder    int
	Buttons      Buttons
	Resource     Resource
}

func (AdBinding) TableName() string { return "ad_bindings" }

// BotUser is one end user as seen by one bot.
// InviteLinkID is the link used most recently; FirstInviteLinkID never changes after creation.
type BotUser struct {
	ID                int64 `gorm:"primaryKey"`
	TelegramID        int64
	BotID             int64
	InviteLinkID      int64
	FirstInviteLinkID int64
	FirstName         string
	LastName          string
	Username          string
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	InviteLink        InviteLink
}

func (BotUser) TableName() string { return "bot_users" }

// UserSession is one walkthrough instance
type UserSession struct {
	ID           int64 `gorm:"primaryKey"`
	BotUserID    int64
	CurrentIndex int
	IsCompleted  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	BotUser      BotUser
}

func (UserSession) TableName() string { return "user_sessions" }

// AdImpression is written every time an ad is actually transmitted
type AdImpression struct {
	ID           int64 `gorm:"primaryKey"`
	BotID        int64
	InviteLinkID int64
	AdBindingID  int64
	TelegramID   int64
	ViewedAt     time.Time
}

func (AdImpression) TableName() string { return "ad_impressions" }

// SystemSetting is a global key with a JSON encoded value
type SystemSetting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (SystemSetting) TableName() string { return "system_settings" }

// BotFileID remembers the Telegram file_id issued to a bot for a media file.
// Handles are not portable between bot identities.
type BotFileID struct {
	BotID       int64 `gorm:"primaryKey;autoIncrement:false"`
	MediaFileID int64 `gorm:"primaryKey;autoIncrement:false"`
	FileID      string
	UpdatedAt   time.Time
}

func (BotFileID) TableName() string { return "bot_file_ids" }

// Button is an inline link button
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Buttons is stored as a JSON array column
type Buttons []Button

// GormDataType keeps GORM from treating the slice as a relation
func (Buttons) GormDataType() string {
	return "text"
}

// Value implements driver.Valuer
func (b Buttons) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (b *Buttons) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*b = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported buttons column type %T", src)
	}
	if len(data) == 0 {
		*b = nil
		return nil
	}
	return json.Unmarshal(data, b)
}

// EndContent is the message shown when a walkthrough is finished
type EndContent struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}
