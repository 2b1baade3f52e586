package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	historyCachePrefix = "history:"
	historyCacheTTL    = 5 * time.Minute
)

// HistoryCache keeps recently loaded session histories in Redis
type HistoryCache struct {
	client *Client
	ttl    time.Duration
}

// NewHistoryCache creates a new history cache
func NewHistoryCache(client *Client) *HistoryCache {
	return &HistoryCache{client: client, ttl: historyCacheTTL}
}

func historyKey(sessionID int64) string {
	return fmt.Sprintf("%s%d", historyCachePrefix, sessionID)
}

// Get returns the cached history. Any failure counts as a miss.
func (c *HistoryCache) Get(ctx context.Context, sessionID int64) ([]domain.StoredMessage, bool) {
	data, err := c.client.rdb.Get(ctx, historyKey(sessionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("history cache read failed")
		}
		return nil, false
	}

	var history []domain.StoredMessage
	if err := json.Unmarshal(data, &history); err != nil {
		log.Warn().Err(err).Int64("session_id", sessionID).Msg("discarding corrupt history cache entry")
		return nil, false
	}
	return history, true
}

// Set caches a session's history
func (c *HistoryCache) Set(ctx context.Context, sessionID int64, history []domain.StoredMessage) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	return c.client.rdb.Set(ctx, historyKey(sessionID), data, c.ttl).Err()
}

// Invalidate removes a session's cached history
func (c *HistoryCache) Invalidate(ctx context.Context, sessionID int64) error {
	return c.client.rdb.Del(ctx, historyKey(sessionID)).Err()
}
