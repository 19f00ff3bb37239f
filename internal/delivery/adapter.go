// Package delivery turns resources into outbound messages, reusing Telegram
// file handles cached per bot and falling back to uploads when a handle is rejected.
package delivery

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"dripbot/internal/metrics"
	"dripbot/internal/models"
	"dripbot/internal/storage"
)

// AlbumControlText accompanies a pagination control sent after an album
const AlbumControlText = "👆 That was the current item"

var staleFileMarkers = []string{
	"wrong file identifier",
	"file_id",
	"invalid file",
}

// IsStaleFileError reports whether Telegram rejected a cached file handle.
// Network, rate limit and permission errors are not stale file errors.
func IsStaleFileError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range staleFileMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Adapter sends resources for one bot identity
type Adapter struct {
	botID     int64
	transport Transport
	files     storage.FileIDStore
	uploadDir string
	logger    *zap.Logger
}

// NewAdapter creates an adapter. Relative media paths are resolved against uploadDir.
func NewAdapter(botID int64, transport Transport, files storage.FileIDStore, uploadDir string, logger *zap.Logger) *Adapter {
	return &Adapter{
		botID:     botID,
		transport: transport,
		files:     files,
		uploadDir: uploadDir,
		logger:    logger.With(zap.Int64("bot_id", botID)),
	}
}

// SendText sends a plain message
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error {
	start := time.Now()
	err := a.transport.SendText(ctx, chatID, text, kb)
	observe("text", start, err)
	return err
}

// SendResource delivers a resource with an optional keyboard.
// Albums cannot carry a keyboard, so it follows in a separate message.
func (a *Adapter) SendResource(ctx context.Context, chatID int64, res models.Resource, kb Keyboard) error {
	files := res.MediaFiles
	if len(files) == 0 {
		text := strings.TrimSpace(res.Caption)
		if text == "" {
			if len(kb) == 0 {
				return nil
			}
			text = AlbumControlText
		}
		return a.SendText(ctx, chatID, text, kb)
	}

	if res.Type == models.ResourceMediaGroup && len(files) > 1 {
		if err := a.sendAlbum(ctx, chatID, files, res.Caption); err != nil {
			return err
		}
		if len(kb) > 0 {
			return a.SendText(ctx, chatID, AlbumControlText, kb)
		}
		return nil
	}

	mf := files[0]
	if res.Type == models.ResourceVideo {
		mf.Type = models.MediaVideo
	}
	return a.sendSingle(ctx, chatID, mf, res.Caption, kb)
}

func (a *Adapter) sendSingle(ctx context.Context, chatID int64, mf models.MediaFile, caption string, kb Keyboard) error {
	kind := "photo"
	send := a.transport.SendPhoto
	if mf.Type == models.MediaVideo {
		kind = "video"
		send = a.transport.SendVideo
	}
	media := a.media(mf)

	if cached := a.cachedFileID(ctx, mf.ID); cached != "" {
		metrics.FileIDCache.WithLabelValues("hit").Inc()
		byHandle := media
		byHandle.FileID = cached

		start := time.Now()
		_, err := send(ctx, chatID, byHandle, caption, kb)
		if err == nil {
			observe(kind, start, nil)
			return nil
		}
		if !IsStaleFileError(err) {
			observe(kind, start, err)
			return err
		}
		metrics.FileIDCache.WithLabelValues("stale").Inc()
		a.logger.Warn("Cached file id rejected, uploading again",
			zap.Int64("media_file_id", mf.ID),
			zap.Error(err),
		)
		a.forget(ctx, mf.ID)
	} else {
		metrics.FileIDCache.WithLabelValues("miss").Inc()
	}

	start := time.Now()
	fileID, err := send(ctx, chatID, media, caption, kb)
	observe(kind, start, err)
	if err != nil {
		return err
	}
	a.remember(ctx, mf.ID, fileID)
	return nil
}

// sendAlbum splits the files into Telegram sized groups; the caption goes on the first item only
func (a *Adapter) sendAlbum(ctx context.Context, chatID int64, files []models.MediaFile, caption string) error {
	for start := 0; start < len(files); start += MaxAlbumSize {
		end := start + MaxAlbumSize
		if end > len(files) {
			end = len(files)
		}
		c := ""
		if start == 0 {
			c = caption
		}

		batch := files[start:end]
		var err error
		if len(batch) == 1 {
			err = a.sendSingle(ctx, chatID, batch[0], c, nil)
		} else {
			err = a.sendAlbumBatch(ctx, chatID, batch, c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) sendAlbumBatch(ctx context.Context, chatID int64, files []models.MediaFile, caption string) error {
	items := make([]Media, len(files))
	uploaded := make([]bool, len(files))
	for i, mf := range files {
		items[i] = a.media(mf)
		if cached := a.cachedFileID(ctx, mf.ID); cached != "" {
			metrics.FileIDCache.WithLabelValues("hit").Inc()
			items[i].FileID = cached
		} else {
			metrics.FileIDCache.WithLabelValues("miss").Inc()
			uploaded[i] = true
		}
	}

	start := time.Now()
	ids, err := a.transport.SendMediaGroup(ctx, chatID, items, caption)
	if err != nil {
		if !IsStaleFileError(err) {
			observe("media_group", start, err)
			return err
		}

		// One bad handle fails the whole group: drop every handle and upload everything
		metrics.FileIDCache.WithLabelValues("stale").Inc()
		a.logger.Warn("Album rejected a cached file id, uploading whole album",
			zap.Int("items", len(files)),
			zap.Error(err),
		)
		for i, mf := range files {
			a.forget(ctx, mf.ID)
			items[i].FileID = ""
			uploaded[i] = true
		}

		start = time.Now()
		ids, err = a.transport.SendMediaGroup(ctx, chatID, items, caption)
		if err != nil {
			observe("media_group", start, err)
			return err
		}
	}
	observe("media_group", start, nil)

	for i, mf := range files {
		if uploaded[i] && i < len(ids) {
			a.remember(ctx, mf.ID, ids[i])
		}
	}
	return nil
}

func (a *Adapter) media(mf models.MediaFile) Media {
	m := Media{
		Type: mf.Type,
		Path: a.resolve(mf.FilePath),
	}
	if mf.Duration != nil {
		m.Duration = *mf.Duration
	}
	if mf.Width != nil {
		m.Width = *mf.Width
	}
	if mf.Height != nil {
		m.Height = *mf.Height
	}
	if mf.ThumbnailPath != "" {
		m.ThumbPath = a.resolve(mf.ThumbnailPath)
	}
	return m
}

func (a *Adapter) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.uploadDir, path)
}

// cachedFileID treats a cache read failure as a miss
func (a *Adapter) cachedFileID(ctx context.Context, mediaFileID int64) string {
	id, err := a.files.GetFileID(ctx, a.botID, mediaFileID)
	if err != nil {
		a.logger.Warn("Failed to read file id cache", zap.Int64("media_file_id", mediaFileID), zap.Error(err))
		return ""
	}
	return id
}

func (a *Adapter) remember(ctx context.Context, mediaFileID int64, fileID string) {
	if fileID == "" {
		return
	}
	if err := a.files.SaveFileID(ctx, a.botID, mediaFileID, fileID); err != nil {
		a.logger.Warn("Failed to cache file id", zap.Int64("media_file_id", mediaFileID), zap.Error(err))
	}
}

func (a *Adapter) forget(ctx context.Context, mediaFileID int64) {
	if err := a.files.DeleteFileID(ctx, a.botID, mediaFileID); err != nil {
		a.logger.Warn("Failed to drop file id", zap.Int64("media_file_id", mediaFileID), zap.Error(err))
	}
}

func observe(kind string, start time.Time, err error) {
	metrics.SendDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DeliveryErrors.WithLabelValues(kind).Inc()
	}
}
