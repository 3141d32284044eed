package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendsWithoutRedis(t *testing.T) {
	ctx := context.Background()
	c, err := NewCache(CacheConfig{})
	require.NoError(t, err)

	_, err = c.Get(ctx, "nope")
	assert.True(t, IsNotFound(err))

	ps, err := NewPubSub(CacheConfig{LocalPubSubBuf: 4})
	require.NoError(t, err)
	ch, cancel, err := ps.Subscribe(ctx, "board:changed")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "board:changed", "b-1"))
	select {
	case m := <-ch:
		assert.Equal(t, &Message{Channel: "board:changed", Payload: "b-1"}, m)
	case <-time.After(time.Second):
		t.Fatal("no message relayed")
	}
}
