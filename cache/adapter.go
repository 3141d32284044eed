package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/bountyboard/cache/local"
	cacheredis "github.com/kasuganosora/bountyboard/cache/redis"
)

// Cache is the shared state used by boards: placement locks, viewer presence and
// board metadata.
type Cache interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// Hash
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Set
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// IsNotFound reports whether err means the key does not exist in either backend.
func IsNotFound(err error) bool {
	return errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub is fire-and-forget channel messaging.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

func (c CacheConfig) redis() cacheredis.Config {
	return cacheredis.Config{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// NewCache returns a Redis cache when RedisAddr is set, an in-process one otherwise.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.NewCache(cfg.redis())
	}
	return local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
}

// NewPubSub returns a Redis pubsub when RedisAddr is set, an in-process one otherwise.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	if cfg.RedisAddr != "" {
		rps, err := cacheredis.NewPubSub(cfg.redis())
		if err != nil {
			return nil, err
		}
		return &redisPubSub{ps: rps}, nil
	}
	buf := cfg.LocalPubSubBuf
	if buf <= 0 {
		buf = 256
	}
	return &localPubSub{ps: local.NewPubSub(buf)}, nil
}

type localPubSub struct {
	ps *local.LocalPubSub
}

func (a *localPubSub) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *localPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	return relay(in, func(m *local.LocalMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	}), cancel, nil
}

type redisPubSub struct {
	ps *cacheredis.RedisPubSub
}

func (a *redisPubSub) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *redisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	return relay(in, func(m *cacheredis.RedisMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	}), cancel, nil
}

// relay converts a backend message stream into cache.Message values. The output
// closes when the input does.
func relay[T any](in <-chan T, conv func(T) *Message) <-chan *Message {
	out := make(chan *Message, cap(in))
	go func() {
		defer close(out)
		for m := range in {
			out <- conv(m)
		}
	}()
	return out
}
