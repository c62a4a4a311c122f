package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - receipts:{message_id} - hot cache of per-recipient delivery status
// - unread:{user_id} - cached unread notification count
// - dedupe:{kind}:{user_id}:{token} - SETNX dedup windows

// CacheConfig contains configuration for caching
type CacheConfig struct {
	ReceiptTTL time.Duration // TTL for delivery status hot cache
	UnreadTTL  time.Duration // TTL for unread count cache
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ReceiptTTL: 5 * time.Minute,
		UnreadTTL:  15 * time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{client: client, config: config}
}

// --- Delivery status hot cache ---

func receiptKey(messageID string) string {
	return "receipts:" + messageID
}

// GetReceipts returns the cached per-recipient status map, or nil on miss.
func (c *CacheStore) GetReceipts(ctx context.Context, messageID string) (map[string]string, error) {
	data, err := c.client.Get(ctx, receiptKey(messageID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var statuses map[string]string
	if err := json.Unmarshal([]byte(data), &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// SetReceipts caches the per-recipient status map for a message.
func (c *CacheStore) SetReceipts(ctx context.Context, messageID string, statuses map[string]string) error {
	data, err := json.Marshal(statuses)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, receiptKey(messageID), data, c.config.ReceiptTTL).Err()
}

// InvalidateReceipts drops the cached status map after a write.
func (c *CacheStore) InvalidateReceipts(ctx context.Context, messageID string) error {
	return c.client.Del(ctx, receiptKey(messageID)).Err()
}

// --- Unread notification count ---

func unreadKey(userID string) string {
	return "unread:" + userID
}

// GetUnreadCount returns the cached unread count, or -1 on miss.
func (c *CacheStore) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := c.client.Get(ctx, unreadKey(userID)).Int64()
	if err == goredis.Nil {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SetUnreadCount caches the recomputed unread count.
func (c *CacheStore) SetUnreadCount(ctx context.Context, userID string, count int64) error {
	return c.client.Set(ctx, unreadKey(userID), count, c.config.UnreadTTL).Err()
}

// --- Dedup windows ---

// DedupeKey builds the key for a SETNX dedup window.
func DedupeKey(kind, userID, token string) string {
	return fmt.Sprintf("dedupe:%s:%s:%s", kind, userID, token)
}

// ClaimOnce sets a dedup key if absent and reports whether this caller won
// the window. The stored value lets later duplicates recover the original
// result (e.g. the server message id assigned to a retransmitted submit).
func (c *CacheStore) ClaimOnce(ctx context.Context, key, value string, window time.Duration) (bool, string, error) {
	ok, err := c.client.SetNX(ctx, key, value, window).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, value, nil
	}
	existing, err := c.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		// The winner expired between SETNX and GET; treat as fresh.
		return true, value, nil
	}
	if err != nil {
		return false, "", err
	}
	return false, existing, nil
}

// Release drops a dedup claim before its window expires. Used when the work
// the claim guarded failed and the caller wants the retry to go through.
func (c *CacheStore) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
