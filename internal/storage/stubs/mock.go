package stubs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dripbot/internal/models"
	"dripbot/internal/storage"
)

// MockDB is an in-memory implementation of storage.Storage for testing
type MockDB struct {
	mu          sync.RWMutex
	bots        map[int64]models.Bot
	links       map[int64]models.InviteLink
	contents    map[int64][]models.ContentBinding
	ads         map[int64][]models.AdBinding
	users       map[int64]*models.BotUser
	sessions    map[int64]*models.UserSession
	impressions []models.AdImpression
	fileIDs     map[string]string
	settings    map[string]interface{}
	nextID      int64
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		bots:     make(map[int64]models.Bot),
		links:    make(map[int64]models.InviteLink),
		contents: make(map[int64][]models.ContentBinding),
		ads:      make(map[int64][]models.AdBinding),
		users:    make(map[int64]*models.BotUser),
		sessions: make(map[int64]*models.UserSession),
		fileIDs:  make(map[string]string),
		settings: make(map[string]interface{}),
	}
}

// Initialize is a no-op, fixtures are added with the Add* helpers
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *MockDB) Close() error {
	return nil
}

func (m *MockDB) id() int64 {
	m.nextID++
	return m.nextID
}

// AddBot registers a bot and returns it with its assigned ID
func (m *MockDB) AddBot(name, token string, active bool) models.Bot {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := models.Bot{ID: m.id(), Name: name, Token: token, IsActive: active}
	m.bots[b.ID] = b
	return b
}

// SetBotActive toggles a bot
func (m *MockDB) SetBotActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bots[id]
	b.IsActive = active
	m.bots[id] = b
}

// SetBotToken replaces a bot's token
func (m *MockDB) SetBotToken(id int64, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bots[id]
	b.Token = token
	m.bots[id] = b
}

// AddInviteLink creates a link for a bot
func (m *MockDB) AddInviteLink(botID int64, code, name string) models.InviteLink {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := models.InviteLink{ID: m.id(), BotID: botID, Code: code, Name: name, CreatedAt: time.Now()}
	m.links[l.ID] = l
	return l
}

// AddContent appends a resource to a link's walkthrough
func (m *MockDB) AddContent(linkID int64, resource models.Resource) models.ContentBinding {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resource.ID == 0 {
		resource.ID = m.id()
	}
	b := models.ContentBinding{
		ID:           m.id(),
		InviteLinkID: linkID,
		ResourceID:   resource.ID,
		SortOrder:    len(m.contents[linkID]),
		Resource:     resource,
	}
	m.contents[linkID] = append(m.contents[linkID], b)
	return b
}

// AddAd appends a resource to a link's ad rotation
func (m *MockDB) AddAd(linkID int64, resource models.Resource, buttons ...models.Button) models.AdBinding {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resource.ID == 0 {
		resource.ID = m.id()
	}
	b := models.AdBinding{
		ID:           m.id(),
		InviteLinkID: linkID,
		ResourceID:   resource.ID,
		SortOrder:    len(m.ads[linkID]),
		Buttons:      buttons,
		Resource:     resource,
	}
	m.ads[linkID] = append(m.ads[linkID], b)
	return b
}

// SetSetting stores a setting value (int for adDisplaySeconds, models.EndContent, string)
func (m *MockDB) SetSetting(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = value
}

// ContentBindings returns the walkthrough of a link
func (m *MockDB) ContentBindings(ctx context.Context, inviteLinkID int64) ([]models.ContentBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]models.ContentBinding(nil), m.contents[inviteLinkID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

// AdBindings returns the ad rotation of a link
func (m *MockDB) AdBindings(ctx context.Context, inviteLinkID int64) ([]models.AdBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]models.AdBinding(nil), m.ads[inviteLinkID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

// AdDisplaySeconds returns the configured pacing delay
func (m *MockDB) AdDisplaySeconds(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.settings[storage.SettingAdDisplaySeconds].(int); ok {
		return storage.ClampAdSeconds(v), nil
	}
	return storage.DefaultAdDisplaySeconds, nil
}

// EndContent returns the end-of-sequence message
func (m *MockDB) EndContent(ctx context.Context) (models.EndContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.settings[storage.SettingEndContent].(models.EndContent); ok {
		return v, nil
	}
	return models.EndContent{Text: storage.DefaultEndText}, nil
}

// StatsGroupID returns the statistics group chat id
func (m *MockDB) StatsGroupID(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, _ := m.settings[storage.SettingStatsGroupID].(string)
	return v, nil
}

// UpsertBotUser creates or refreshes a user keyed by (telegramID, botID)
func (m *MockDB) UpsertBotUser(ctx context.Context, user models.BotUser) (*models.BotUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, u := range m.users {
		if u.TelegramID == user.TelegramID && u.BotID == user.BotID {
			u.InviteLinkID = user.InviteLinkID
			if user.FirstName != "" {
				u.FirstName = user.FirstName
			}
			if user.LastName != "" {
				u.LastName = user.LastName
			}
			if user.Username != "" {
				u.Username = user.Username
			}
			u.LastSeenAt = now
			cp := *u
			return &cp, nil
		}
	}

	u := user
	u.ID = m.id()
	u.FirstInviteLinkID = user.InviteLinkID
	u.FirstSeenAt = now
	u.LastSeenAt = now
	m.users[u.ID] = &u
	cp := u
	return &cp, nil
}

// ResetSession completes open sessions of the user and opens a new one
func (m *MockDB) ResetSession(ctx context.Context, botUserID int64) (*models.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[botUserID]; !ok {
		return nil, fmt.Errorf("bot user %d: %w", botUserID, storage.ErrNotFound)
	}

	now := time.Now()
	for _, s := range m.sessions {
		if s.BotUserID == botUserID && !s.IsCompleted {
			s.IsCompleted = true
			s.UpdatedAt = now
		}
	}

	s := &models.UserSession{ID: m.id(), BotUserID: botUserID, CreatedAt: now, UpdatedAt: now}
	m.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

// GetSession loads a session with its owner
func (m *MockDB) GetSession(ctx context.Context, sessionID int64) (*models.UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	if u, ok := m.users[s.BotUserID]; ok {
		cp.BotUser = *u
		cp.BotUser.InviteLink = m.links[u.InviteLinkID]
	}
	return &cp, nil
}

// AdvanceSession moves the session index forward
func (m *MockDB) AdvanceSession(ctx context.Context, sessionID int64, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if index > s.CurrentIndex {
		s.CurrentIndex = index
	}
	s.UpdatedAt = time.Now()
	return nil
}

// CompleteSession marks a session finished
func (m *MockDB) CompleteSession(ctx context.Context, sessionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	s.IsCompleted = true
	s.UpdatedAt = time.Now()
	return nil
}

// RecordImpression appends an impression row
func (m *MockDB) RecordImpression(ctx context.Context, impression models.AdImpression) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	impression.ID = m.id()
	if impression.ViewedAt.IsZero() {
		impression.ViewedAt = time.Now()
	}
	m.impressions = append(m.impressions, impression)
	return nil
}

// InviteLinkByCode resolves a link of a bot
func (m *MockDB) InviteLinkByCode(ctx context.Context, botID int64, code string) (*models.InviteLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, l := range m.links {
		if l.BotID == botID && l.Code == code {
			cp := l
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// FindBotUser loads a user with its last invite link
func (m *MockDB) FindBotUser(ctx context.Context, telegramID, botID int64) (*models.BotUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.TelegramID == telegramID && u.BotID == botID {
			cp := *u
			cp.InviteLink = m.links[u.InviteLinkID]
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func fileKey(botID, mediaFileID int64) string {
	return fmt.Sprintf("%d:%d", botID, mediaFileID)
}

// GetFileID returns a cached handle or ""
func (m *MockDB) GetFileID(ctx context.Context, botID, mediaFileID int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.fileIDs[fileKey(botID, mediaFileID)], nil
}

// SaveFileID stores a handle
func (m *MockDB) SaveFileID(ctx context.Context, botID, mediaFileID int64, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileIDs[fileKey(botID, mediaFileID)] = fileID
	return nil
}

// DeleteFileID drops a handle
func (m *MockDB) DeleteFileID(ctx context.Context, botID, mediaFileID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.fileIDs, fileKey(botID, mediaFileID))
	return nil
}

// ActiveBots returns active bots ordered by ID
func (m *MockDB) ActiveBots(ctx context.Context) ([]models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Bot
	for _, b := range m.bots {
		if b.IsActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Impressions returns a copy of all recorded impressions
func (m *MockDB) Impressions() []models.AdImpression {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]models.AdImpression(nil), m.impressions...)
}

// SessionsOf returns every session of a bot user, oldest first
func (m *MockDB) SessionsOf(botUserID int64) []models.UserSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.UserSession
	for _, s := range m.sessions {
		if s.BotUserID == botUserID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
