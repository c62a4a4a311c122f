package redis

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// PresenceRecord is a user's live status as seen by the pipeline.
type PresenceRecord struct {
	UserID    string    `json:"user_id"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	SocketIDs []string  `json:"socket_ids,omitempty"`
}

// Redis key prefixes for presence
const (
	socketsKeyPrefix     = "sockets:"            // Set of live socket ids per user
	lastSeenKeyPrefix    = "last_seen:"          // Timestamp of last disconnect
	typingKeyPrefix      = "typing:"             // Set of users typing to a target
	presenceHeartbeatKey = "presence:heartbeat:" // Sorted set for heartbeat timestamps

	typingTTL = 10 * time.Second
)

// PresenceStore tracks online status, socket membership and typing
// indicators in Redis. A user is online iff their socket set is non-empty.
// All mutation goes through atomic Redis operations so multiple gateway
// processes can register and unregister connections for the same user
// concurrently without a read-then-write race.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewPresenceStore creates a new presence store. ttl bounds how long a
// socket registration survives without a heartbeat.
func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{client: client, ttl: ttl}
}

// AddSocket registers a live connection for a user. Idempotent.
func (p *PresenceStore) AddSocket(ctx context.Context, userID, socketID string) error {
	now := time.Now()
	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, socketsKeyPrefix+userID, socketID)
	pipe.Expire(ctx, socketsKeyPrefix+userID, p.ttl)
	pipe.ZAdd(ctx, presenceHeartbeatKey+"all", goredis.Z{
		Score:  float64(now.Unix()),
		Member: userID,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveSocket drops one connection. It returns how many sockets remain; on
// zero the user is offline and last_seen is recorded.
func (p *PresenceStore) RemoveSocket(ctx context.Context, userID, socketID string) (int64, error) {
	key := socketsKeyPrefix + userID
	if err := p.client.SRem(ctx, key, socketID).Err(); err != nil {
		return 0, err
	}
	remaining, err := p.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, lastSeenKeyPrefix+userID, time.Now().UTC().Format(time.RFC3339), 0)
		pipe.ZRem(ctx, presenceHeartbeatKey+"all", userID)
		_, err = pipe.Exec(ctx)
	}
	return remaining, err
}

// IsOnline reports whether the user has at least one live socket.
func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.SCard(ctx, socketsKeyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetPresence returns the full presence record for a user.
func (p *PresenceStore) GetPresence(ctx context.Context, userID string) (*PresenceRecord, error) {
	sockets, err := p.client.SMembers(ctx, socketsKeyPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	rec := &PresenceRecord{
		UserID:    userID,
		IsOnline:  len(sockets) > 0,
		SocketIDs: sockets,
	}
	if !rec.IsOnline {
		raw, err := p.client.Get(ctx, lastSeenKeyPrefix+userID).Result()
		if err == nil {
			if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
				rec.LastSeen = t
			}
		} else if err != goredis.Nil {
			return nil, err
		}
	}
	return rec, nil
}

// Heartbeat refreshes a user's socket TTL so a live connection is not swept.
func (p *PresenceStore) Heartbeat(ctx context.Context, userID string) error {
	pipe := p.client.Pipeline()
	pipe.Expire(ctx, socketsKeyPrefix+userID, p.ttl)
	pipe.ZAdd(ctx, presenceHeartbeatKey+"all", goredis.Z{
		Score:  float64(time.Now().Unix()),
		Member: userID,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// CleanupStale marks users offline whose heartbeat is older than maxAge.
// Silently dropped connections are only detected this way.
func (p *PresenceStore) CleanupStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).Unix()

	stale, err := p.client.ZRangeByScore(ctx, presenceHeartbeatKey+"all", &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(threshold, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	for _, userID := range stale {
		pipe := p.client.Pipeline()
		pipe.Del(ctx, socketsKeyPrefix+userID)
		pipe.Set(ctx, lastSeenKeyPrefix+userID, time.Now().UTC().Format(time.RFC3339), 0)
		pipe.ZRem(ctx, presenceHeartbeatKey+"all", userID)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, err
		}
	}
	return int64(len(stale)), nil
}

// SetTyping upserts or clears a typing indicator. Indicators auto-expire, so
// absence of a fresh record means "not typing".
func (p *PresenceStore) SetTyping(ctx context.Context, targetID, userID string, isTyping bool) error {
	key := typingKeyPrefix + targetID
	if isTyping {
		pipe := p.client.Pipeline()
		pipe.SAdd(ctx, key, userID)
		pipe.Expire(ctx, key, typingTTL)
		_, err := pipe.Exec(ctx)
		return err
	}
	return p.client.SRem(ctx, key, userID).Err()
}

// GetTypingUsers returns the users currently typing to a target.
func (p *PresenceStore) GetTypingUsers(ctx context.Context, targetID string) ([]string, error) {
	return p.client.SMembers(ctx, typingKeyPrefix+targetID).Result()
}
