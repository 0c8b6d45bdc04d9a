package redis

import (
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, TranslateError(nil))
	assert.ErrorIs(t, TranslateError(redis.Nil), ErrNotFound)
	assert.ErrorIs(t, TranslateError(redis.ErrClosed), ErrClosed)

	other := errors.New("boom")
	assert.Equal(t, other, TranslateError(other))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultReplyTTL, cfg.ReplyTTL)
	assert.Equal(t, DefaultKeyPrefix, cfg.KeyPrefix)
	assert.False(t, Config{}.Enabled())
}

func TestReplyCacheKey(t *testing.T) {
	client, err := NewClient(Config{KeyPrefix: "p:"})
	assert.NoError(t, err)
	defer client.Close()

	c := NewReplyCache(client)
	assert.Equal(t, "p:data_queue:abc", c.key("data_queue", "abc"))
}

func TestClosedClient(t *testing.T) {
	client, err := NewClient(Config{})
	assert.NoError(t, err)
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	_, err = client.Get(t.Context(), "k")
	assert.ErrorIs(t, err, ErrClosed)
}
