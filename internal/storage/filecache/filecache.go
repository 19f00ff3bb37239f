// Package filecache puts an in-process bigcache in front of the persistent file handle table.
package filecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	"dripbot/internal/storage"
)

// Cache is a read-through storage.FileIDStore
type Cache struct {
	next   storage.FileIDStore
	cache  *bigcache.BigCache
	logger *zap.Logger
}

var _ storage.FileIDStore = (*Cache)(nil)

// New wraps next with an in-memory cache whose entries live for ttl
func New(next storage.FileIDStore, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Verbose = false
	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create file id cache: %w", err)
	}
	return &Cache{next: next, cache: cache, logger: logger}, nil
}

func key(botID, mediaFileID int64) string {
	return fmt.Sprintf("%d:%d", botID, mediaFileID)
}

// GetFileID serves from memory, falling back to the store
func (c *Cache) GetFileID(ctx context.Context, botID, mediaFileID int64) (string, error) {
	k := key(botID, mediaFileID)
	entry, err := c.cache.Get(k)
	if err == nil {
		return string(entry), nil
	}
	if !errors.Is(err, bigcache.ErrEntryNotFound) {
		c.logger.Warn("File id cache read failed", zap.String("key", k), zap.Error(err))
	}

	fileID, err := c.next.GetFileID(ctx, botID, mediaFileID)
	if err != nil || fileID == "" {
		return fileID, err
	}
	if err := c.cache.Set(k, []byte(fileID)); err != nil {
		c.logger.Warn("File id cache write failed", zap.String("key", k), zap.Error(err))
	}
	return fileID, nil
}

// SaveFileID writes through to the store
func (c *Cache) SaveFileID(ctx context.Context, botID, mediaFileID int64, fileID string) error {
	if err := c.next.SaveFileID(ctx, botID, mediaFileID, fileID); err != nil {
		return err
	}
	if err := c.cache.Set(key(botID, mediaFileID), []byte(fileID)); err != nil {
		c.logger.Warn("File id cache write failed", zap.Error(err))
	}
	return nil
}

// DeleteFileID evicts before deleting so a stale handle is never served again
func (c *Cache) DeleteFileID(ctx context.Context, botID, mediaFileID int64) error {
	if err := c.cache.Delete(key(botID, mediaFileID)); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		c.logger.Warn("File id cache delete failed", zap.Error(err))
	}
	return c.next.DeleteFileID(ctx, botID, mediaFileID)
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	return c.cache.Len()
}

// Close releases the cache
func (c *Cache) Close() error {
	return c.cache.Close()
}
