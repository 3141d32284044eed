package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

type entry struct {
	data     string
	expireAt time.Time // zero: no expiry
}

func newEntry(value string, ttl time.Duration) *entry {
	e := &entry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	return e
}

func (e *entry) expired() bool {
	return !e.expireAt.IsZero() && time.Now().After(e.expireAt)
}

// LocalCache is the single-process Cache implementation.
type LocalCache struct {
	mu         sync.Mutex // makes SetNX atomic
	kv         sync.Map   // key → *entry
	hashes     sync.Map   // key → *lockedHash
	sets       sync.Map   // key → *lockedSet
	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the expiry sweeper.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the sweeper. It is safe to call more than once.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.kv.Range(func(k, v any) bool {
				if v.(*entry).expired() {
					c.kv.Delete(k)
				}
				return true
			})
		case <-c.stopGC:
			return
		}
	}
}

func (c *LocalCache) load(key string) (*entry, bool) {
	v, ok := c.kv.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if e.expired() {
		c.kv.Delete(key)
		return nil, false
	}
	return e, true
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	e, ok := c.load(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.data, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.kv.Store(key, newEntry(value, ttl))
	return nil
}

// Del removes keys of any type.
func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.kv.Delete(k)
		c.hashes.Delete(k)
		c.sets.Delete(k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := c.load(key)
	return ok, nil
}

func (c *LocalCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.load(key); ok {
		return false, nil
	}
	c.kv.Store(key, newEntry(value, ttl))
	return true, nil
}

// ---- Hash ----

type lockedHash struct {
	mu     sync.RWMutex
	fields map[string]string
}

func (c *LocalCache) hash(key string) *lockedHash {
	v, _ := c.hashes.LoadOrStore(key, &lockedHash{fields: make(map[string]string)})
	return v.(*lockedHash)
}

func (c *LocalCache) HSet(_ context.Context, key, field, value string) error {
	h := c.hash(key)
	h.mu.Lock()
	h.fields[field] = value
	h.mu.Unlock()
	return nil
}

func (c *LocalCache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	v, ok := c.hashes.Load(key)
	if !ok {
		return map[string]string{}, nil
	}
	h := v.(*lockedHash)
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.fields))
	for k, val := range h.fields {
		out[k] = val
	}
	return out, nil
}

// ---- Set ----

type lockedSet struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

func (c *LocalCache) set(key string) *lockedSet {
	v, _ := c.sets.LoadOrStore(key, &lockedSet{members: make(map[string]struct{})})
	return v.(*lockedSet)
}

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	s := c.set(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		s.members[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	v, ok := c.sets.Load(key)
	if !ok {
		return nil
	}
	s := v.(*lockedSet)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.members, m)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	v, ok := c.sets.Load(key)
	if !ok {
		return []string{}, nil
	}
	s := v.(*lockedSet)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	return out, nil
}
