package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"dripbot/internal/models"
	"dripbot/internal/storage"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ImpressionStore keeps an append-only copy of ad impressions for analytics
type ImpressionStore struct {
	conn clickhouse.Conn
}

var _ storage.ImpressionSink = (*ImpressionStore)(nil)

// NewImpressionStore creates a new ClickHouse connection
func NewImpressionStore(host string, port int, database, user, password string, useTLS bool) (*ImpressionStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 5 * time.Second,
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ImpressionStore{conn: conn}, nil
}

// Initialize creates the impressions table
func (db *ImpressionStore) Initialize(ctx context.Context) error {
	err := db.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ad_impressions (
			viewed_at DateTime,
			bot_id Int64,
			invite_link_id Int64,
			ad_binding_id Int64,
			telegram_id Int64
		) ENGINE = MergeTree()
		ORDER BY (bot_id, viewed_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ad_impressions: %w", err)
	}
	return nil
}

// WriteImpression appends one impression row
func (db *ImpressionStore) WriteImpression(ctx context.Context, impression models.AdImpression) error {
	err := db.conn.Exec(ctx, `INSERT INTO ad_impressions (viewed_at, bot_id, invite_link_id, ad_binding_id, telegram_id) VALUES (?, ?, ?, ?, ?)`,
		impression.ViewedAt, impression.BotID, impression.InviteLinkID, impression.AdBindingID, impression.TelegramID)
	if err != nil {
		return fmt.Errorf("failed to write ad impression: %w", err)
	}
	return nil
}

// ImpressionsPerAd returns impression counts per ad binding of a bot
func (db *ImpressionStore) ImpressionsPerAd(ctx context.Context, botID int64) (map[int64]uint64, error) {
	rows, err := db.conn.Query(ctx, `SELECT ad_binding_id, count() FROM ad_impressions WHERE bot_id = ? GROUP BY ad_binding_id`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to count impressions: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]uint64)
	for rows.Next() {
		var (
			adID  int64
			count uint64
		)
		if err := rows.Scan(&adID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan impression count: %w", err)
		}
		counts[adID] = count
	}
	return counts, rows.Err()
}

// LastImpressions returns the most recent impressions of a bot
func (db *ImpressionStore) LastImpressions(ctx context.Context, botID int64, limit int) ([]models.AdImpression, error) {
	rows, err := db.conn.Query(ctx, `SELECT viewed_at, bot_id, invite_link_id, ad_binding_id, telegram_id FROM ad_impressions WHERE bot_id = ? ORDER BY viewed_at DESC LIMIT ?`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get last impressions: %w", err)
	}
	defer rows.Close()

	var out []models.AdImpression
	for rows.Next() {
		var imp models.AdImpression
		if err := rows.Scan(&imp.ViewedAt, &imp.BotID, &imp.InviteLinkID, &imp.AdBindingID, &imp.TelegramID); err != nil {
			return nil, fmt.Errorf("failed to scan impression: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (db *ImpressionStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
