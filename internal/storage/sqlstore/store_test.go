package sqlstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dripbot/internal/models"
	"dripbot/internal/storage"
)

// setupTestStore opens a migrated SQLite database in a temp dir
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "dripbot_test.db"))
	require.NoError(t, err, "Failed to open store")
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Initialize(context.Background()), "Failed to run migrations")
	return s
}

type fixture struct {
	bot  models.Bot
	link models.InviteLink
}

func seedLink(t *testing.T, s *Store, code string) fixture {
	t.Helper()

	bot := models.Bot{Token: "123:abc", Name: "drip", IsActive: true}
	require.NoError(t, s.DB().Create(&bot).Error)
	link := models.InviteLink{BotID: bot.ID, Code: code, Name: "Link " + code}
	require.NoError(t, s.DB().Create(&link).Error)
	return fixture{bot: bot, link: link}
}

func seedResource(t *testing.T, s *Store, typ models.ResourceType, caption string, files ...models.MediaFile) models.Resource {
	t.Helper()

	res := models.Resource{Type: typ, Caption: caption, MediaFiles: files}
	require.NoError(t, s.DB().Create(&res).Error)
	return res
}

func TestStore_InitializeIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Initialize(context.Background()))

	for _, table := range []string{"bots", "invite_links", "resources", "media_files", "content_bindings",
		"ad_bindings", "bot_users", "user_sessions", "ad_impressions", "system_settings", "bot_file_ids"} {
		assert.True(t, s.DB().Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestStore_ContentBindingsOrdered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	fx := seedLink(t, s, "abc")

	album := seedResource(t, s, models.ResourceMediaGroup, "album",
		models.MediaFile{Type: models.MediaVideo, FilePath: "b.mp4", SortOrder: 2},
		models.MediaFile{Type: models.MediaPhoto, FilePath: "a.jpg", SortOrder: 1},
	)
	photo := seedResource(t, s, models.ResourcePhoto, "photo",
		models.MediaFile{Type: models.MediaPhoto, FilePath: "p.jpg"},
	)

	require.NoError(t, s.DB().Create(&models.ContentBinding{InviteLinkID: fx.link.ID, ResourceID: album.ID, SortOrder: 5}).Error)
	require.NoError(t, s.DB().Create(&models.ContentBinding{InviteLinkID: fx.link.ID, ResourceID: photo.ID, SortOrder: 1}).Error)

	bindings, err := s.ContentBindings(ctx, fx.link.ID)
	require.NoError(t, err)
	require.Len(t, bindings, 2)

	assert.Equal(t, photo.ID, bindings[0].Resource.ID)
	assert.Equal(t, "photo", bindings[0].Resource.Caption)
	require.Len(t, bindings[1].Resource.MediaFiles, 2)
	assert.Equal(t, "a.jpg", bindings[1].Resource.MediaFiles[0].FilePath)
	assert.Equal(t, "b.mp4", bindings[1].Resource.MediaFiles[1].FilePath)

	empty, err := s.ContentBindings(ctx, fx.link.ID+100)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_AdBindingsButtons(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	fx := seedLink(t, s, "ads")

	ad := seedResource(t, s, models.ResourcePhoto, "buy", models.MediaFile{Type: models.MediaPhoto, FilePath: "ad.jpg"})
	require.NoError(t, s.DB().Create(&models.AdBinding{
		InviteLinkID: fx.link.ID,
		ResourceID:   ad.ID,
		Buttons:      models.Buttons{{Text: "Shop", URL: "https://example.com"}},
	}).Error)
	require.NoError(t, s.DB().Create(&models.AdBinding{InviteLinkID: fx.link.ID, ResourceID: ad.ID, SortOrder: 1}).Error)

	ads, err := s.AdBindings(ctx, fx.link.ID)
	require.NoError(t, err)
	require.Len(t, ads, 2)
	require.Len(t, ads[0].Buttons, 1)
	assert.Equal(t, "Shop", ads[0].Buttons[0].Text)
	assert.Equal(t, "https://example.com", ads[0].Buttons[0].URL)
	assert.Empty(t, ads[1].Buttons)
	assert.Equal(t, "ad.jpg", ads[0].Resource.MediaFiles[0].FilePath)
}

func TestStore_Settings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	secs, err := s.AdDisplaySeconds(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultAdDisplaySeconds, secs)

	end, err := s.EndContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultEndText, end.Text)

	group, err := s.StatsGroupID(ctx)
	require.NoError(t, err)
	assert.Empty(t, group)

	require.NoError(t, s.SaveSetting(ctx, storage.SettingAdDisplaySeconds, 0))
	secs, err = s.AdDisplaySeconds(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.MinAdDisplaySeconds, secs)

	require.NoError(t, s.SaveSetting(ctx, storage.SettingAdDisplaySeconds, 12))
	secs, err = s.AdDisplaySeconds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, secs)

	require.NoError(t, s.SaveSetting(ctx, storage.SettingEndContent, models.EndContent{
		Text:    "Bye",
		Buttons: []models.Button{{Text: "More", URL: "https://example.com/more"}},
	}))
	end, err = s.EndContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bye", end.Text)
	require.Len(t, end.Buttons, 1)

	require.NoError(t, s.SaveSetting(ctx, storage.SettingStatsGroupID, -1001234567890))
	group, err = s.StatsGroupID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "-1001234567890", group)

	require.NoError(t, s.SaveSetting(ctx, storage.SettingStatsGroupID, "-100777"))
	group, err = s.StatsGroupID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "-100777", group)
}

func TestStore_UpsertBotUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	fx := seedLink(t, s, "one")
	other := models.InviteLink{BotID: fx.bot.ID, Code: "two"}
	require.NoError(t, s.DB().Create(&other).Error)

	created, err := s.UpsertBotUser(ctx, models.BotUser{
		TelegramID: 777, BotID: fx.bot.ID, InviteLinkID: fx.link.ID, FirstName: "Ann", Username: "ann",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, fx.link.ID, created.FirstInviteLinkID)
	assert.False(t, created.FirstSeenAt.IsZero())

	updated, err := s.UpsertBotUser(ctx, models.BotUser{TelegramID: 777, BotID: fx.bot.ID, InviteLinkID: other.ID})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, other.ID, updated.InviteLinkID)
	assert.Equal(t, fx.link.ID, updated.FirstInviteLinkID)
	assert.Equal(t, "Ann", updated.FirstName)
	assert.Equal(t, "ann", updated.Username)
	assert.False(t, updated.LastSeenAt.Before(created.LastSeenAt))

	found, err := s.FindBotUser(ctx, 777, fx.bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", found.InviteLink.Code)

	_, err = s.FindBotUser(ctx, 778, fx.bot.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SessionLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	fx := seedLink(t, s, "life")

	user, err := s.UpsertBotUser(ctx, models.BotUser{TelegramID: 1, BotID: fx.bot.ID, InviteLinkID: fx.link.ID})
	require.NoError(t, err)

	first, err := s.ResetSession(ctx, user.ID)
	require.NoError(t, err)
	second, err := s.ResetSession(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	open, err := s.OpenSessionCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), open)

	old, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, old.IsCompleted)

	require.NoError(t, s.AdvanceSession(ctx, second.ID, 2))
	require.NoError(t, s.AdvanceSession(ctx, second.ID, 1))

	got, err := s.GetSession(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentIndex, "index must never decrease")
	assert.False(t, got.IsCompleted)
	assert.Equal(t, int64(1), got.BotUser.TelegramID)
	assert.Equal(t, "life", got.BotUser.InviteLink.Code)

	require.NoError(t, s.CompleteSession(ctx, second.ID))
	got, err = s.GetSession(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)

	open, err = s.OpenSessionCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, open)

	_, err = s.GetSession(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.AdvanceSession(ctx, 9999, 1), storage.ErrNotFound)
	assert.ErrorIs(t, s.CompleteSession(ctx, 9999), storage.ErrNotFound)
}

func TestStore_ConcurrentResetsLeaveOneOpen(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	fx := seedLink(t, s, "race")

	user, err := s.UpsertBotUser(ctx, models.BotUser{TelegramID: 5, BotID: fx.bot.ID, InviteLinkID: fx.link.ID})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ResetSession(ctx, user.ID)
		}()
	}
	wg.Wait()

	// One more sequential reset settles any interleaving above
	_, err = s.ResetSession(ctx, user.ID)
	require.NoError(t, err)

	open, err := s.OpenSessionCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), open)
}

func TestStore_RecordImpression(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordImpression(ctx, models.AdImpression{BotID: 1, InviteLinkID: 2, AdBindingID: 3, TelegramID: 4}))

	var rows []models.AdImpression
	require.NoError(t, s.DB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].AdBindingID)
	assert.False(t, rows[0].ViewedAt.IsZero())
}

func TestStore_FileIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	res := seedResource(t, s, models.ResourcePhoto, "", models.MediaFile{Type: models.MediaPhoto, FilePath: "x.jpg"})
	mediaID := res.MediaFiles[0].ID

	id, err := s.GetFileID(ctx, 1, mediaID)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.SaveFileID(ctx, 1, mediaID, "AAA"))
	require.NoError(t, s.SaveFileID(ctx, 1, mediaID, "BBB"))
	require.NoError(t, s.SaveFileID(ctx, 2, mediaID, "CCC"))

	id, err = s.GetFileID(ctx, 1, mediaID)
	require.NoError(t, err)
	assert.Equal(t, "BBB", id)

	require.NoError(t, s.DeleteFileID(ctx, 1, mediaID))
	id, err = s.GetFileID(ctx, 1, mediaID)
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = s.GetFileID(ctx, 2, mediaID)
	require.NoError(t, err)
	assert.Equal(t, "CCC", id, "handles are scoped per bot")
}

func TestStore_InviteLinksAndBots(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	fx := seedLink(t, s, "code1")

	inactive := models.Bot{Token: "t2", Name: "off"}
	require.NoError(t, s.DB().Create(&inactive).Error)
	require.NoError(t, s.DB().Model(&inactive).Update("is_active", false).Error)

	link, err := s.InviteLinkByCode(ctx, fx.bot.ID, "code1")
	require.NoError(t, err)
	assert.Equal(t, fx.link.ID, link.ID)

	_, err = s.InviteLinkByCode(ctx, fx.bot.ID, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.InviteLinkByCode(ctx, inactive.ID, "code1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	bots, err := s.ActiveBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, fx.bot.ID, bots[0].ID)
}
