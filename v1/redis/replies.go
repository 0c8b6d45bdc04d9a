package redis

import (
	"context"
	"errors"
	"time"
)

// ReplyCache stores sent replies under "<prefix><queue>:<correlation id>"
// for a fixed TTL. It implements rpc.ReplyCache.
type ReplyCache struct {
	client *RedisClient
	prefix string
	ttl    time.Duration
}

// NewReplyCache uses the client's configured prefix and TTL.
func NewReplyCache(client *RedisClient) *ReplyCache {
	return &ReplyCache{client: client, prefix: client.cfg.KeyPrefix, ttl: client.cfg.ReplyTTL}
}

func (c *ReplyCache) key(queue, correlationID string) string {
	return c.prefix + queue + ":" + correlationID
}

// Lookup returns the reply stored for the correlation id, if any.
func (c *ReplyCache) Lookup(ctx context.Context, queue, correlationID string) ([]byte, bool, error) {
	body, err := c.client.Get(ctx, c.key(queue, correlationID))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Store remembers reply for the TTL.
func (c *ReplyCache) Store(ctx context.Context, queue, correlationID string, reply []byte) error {
	return c.client.Set(ctx, c.key(queue, correlationID), reply, c.ttl)
}

// Forget drops a stored reply.
func (c *ReplyCache) Forget(ctx context.Context, queue, correlationID string) error {
	_, err := c.client.Delete(ctx, c.key(queue, correlationID))
	return err
}
