package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscription struct {
	ch       chan *LocalMessage
	channels []string
}

// LocalPubSub fans messages out to in-process subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the message.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	bufSize int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string]map[*subscription]struct{}),
		bufSize: bufSize,
	}
}

// Publish delivers message to every current subscriber of channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	// the read lock is held while sending so cancel cannot close a channel mid-send
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for s := range ps.subs[channel] {
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers for channels. The returned channel closes when cancel is
// called or ctx is done.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	s := &subscription{ch: make(chan *LocalMessage, ps.bufSize), channels: channels}

	ps.mu.Lock()
	for _, c := range channels {
		if ps.subs[c] == nil {
			ps.subs[c] = make(map[*subscription]struct{})
		}
		ps.subs[c][s] = struct{}{}
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			defer ps.mu.Unlock()
			for _, c := range s.channels {
				delete(ps.subs[c], s)
				if len(ps.subs[c]) == 0 {
					delete(ps.subs, c)
				}
			}
			close(s.ch)
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return s.ch, cancel, nil
}
