package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const recentMessagesCacheTimeout = 300 * time.Millisecond

// messageCache keeps a session's recent messages in a redis list, in arrival order.
type messageCache struct {
	client *redis.Client
	ttl    time.Duration
	size   int
}

// newMessageCache returns nil when redis is not configured; every method is nil-safe.
func newMessageCache(client *redis.Client, ttl time.Duration, size int) *messageCache {
	if client == nil || size <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &messageCache{client: client, ttl: ttl, size: size}
}

// cacheContext bounds a cache call unless ctx already expires sooner.
func (m *messageCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= recentMessagesCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, recentMessagesCacheTimeout)
}

func (m *messageCache) key(sessionID string) string {
	return "chat:recent:" + sessionID
}

// get returns the cached window oldest first.
func (m *messageCache) get(ctx context.Context, sessionID string) ([]Message, bool) {
	if m == nil || sessionID == "" {
		return nil, false
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	raw, err := m.client.LRange(ctx, m.key(sessionID), 0, -1).Result()
	if err != nil {
		log.Warn("chat: read recent messages cache failed", "session", sessionID, "err", err)
		return nil, false
	}
	if len(raw) == 0 {
		return nil, false
	}

	records := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			log.Warn("chat: decode recent messages cache failed", "session", sessionID, "err", err)
			return nil, false
		}
		records = append(records, msg)
	}
	return records, true
}

// seed replaces the cached window with records, oldest first.
func (m *messageCache) seed(ctx context.Context, sessionID string, records []Message) {
	if m == nil || sessionID == "" || len(records) == 0 {
		return
	}

	values := make([]interface{}, 0, len(records))
	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			log.Warn("chat: marshal recent messages cache payload failed", "err", err)
			return
		}
		values = append(values, payload)
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	key := m.key(sessionID)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-m.size), -1)
		pipe.Expire(ctx, key, m.ttl)
		return nil
	})
	if err != nil {
		log.Warn("chat: store recent messages cache failed", "session", sessionID, "err", err)
	}
}

// push appends msg to an existing window; a missing window is left for the next read to seed.
func (m *messageCache) push(ctx context.Context, msg Message) {
	if m == nil || msg.SessionID == "" {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Warn("chat: marshal recent messages cache payload failed", "err", err)
		return
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	key := m.key(msg.SessionID)
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPushX(ctx, key, payload)
		pipe.LTrim(ctx, key, int64(-m.size), -1)
		pipe.Expire(ctx, key, m.ttl)
		return nil
	})
	if err != nil {
		log.Warn("chat: append recent messages cache failed", "session", msg.SessionID, "err", err)
	}
}

// invalidate drops the cached window of a session.
func (m *messageCache) invalidate(ctx context.Context, sessionID string) {
	if m == nil || sessionID == "" {
		return
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	if err := m.client.Del(ctx, m.key(sessionID)).Err(); err != nil {
		log.Warn("chat: invalidate recent messages cache failed", "session", sessionID, "err", err)
	}
}
