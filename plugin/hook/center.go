package hook

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
)

// ErrInterrupt signals that a handler vetoes the action that triggered the event.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler function.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
type HookFn func(ctx context.Context, event string, data any) (any, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter dispatches board and quest events to registered handlers.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds fn for event. Lower priority runs first; equal priorities run in
// registration order. name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes every handler called name from event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = slices.DeleteFunc(hc.hooks[event], func(e *hookEntry) bool { return e.name == name })
}

// UnregisterAll removes every handler called name from all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = slices.DeleteFunc(entries, func(e *hookEntry) bool { return e.name == name })
	}
}

// Count returns the number of handlers registered for event.
func (hc *HookCenter) Count(event string) int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.hooks[event])
}

// Trigger runs the handlers for event in priority order, passing each one the
// previous handler's output. A handler returning ErrInterrupt stops the chain
// and the error is returned; other handler errors are skipped over.
// A nil HookCenter triggers nothing.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data any) (any, error) {
	if hc == nil {
		return data, nil
	}
	hc.mu.RLock()
	entries := slices.Clone(hc.hooks[event])
	hc.mu.RUnlock()

	for _, e := range entries {
		out, err := e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err == nil {
			data = out
		}
	}
	return data, nil
}

// ---- Hook event names ----

const (
	BeforeQuestAccept = "before_quest_accept"
	AfterQuestAccept  = "after_quest_accept"
	OnQuestComplete   = "on_quest_complete"
	OnTicketFailed    = "on_ticket_failed"
	OnBoardPlaced     = "on_board_placed"
	OnBoardDestroyed  = "on_board_destroyed"
)
