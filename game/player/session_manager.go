package player

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionManager maintains the registry of all connected PlayerSessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[int64]*PlayerSession // charID → session
	logger   *zap.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[int64]*PlayerSession),
		logger:   logger,
	}
}

// Register adds a session. A previous session for the same character is closed
// and returned so the caller can detach it from any board it had open.
func (sm *SessionManager) Register(s *PlayerSession) *PlayerSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	old := sm.sessions[s.CharID]
	if old != nil {
		old.Close()
		sm.logger.Info("duplicate session displaced",
			zap.Int64("char_id", s.CharID))
	}
	sm.sessions[s.CharID] = s
	sm.logger.Info("player session registered",
		zap.Int64("char_id", s.CharID),
		zap.Int64("account_id", s.AccountID))
	return old
}

// Unregister removes s if it is still the character's current session.
func (sm *SessionManager) Unregister(s *PlayerSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.sessions[s.CharID]; ok && cur == s {
		delete(sm.sessions, s.CharID)
		sm.logger.Info("player session unregistered", zap.Int64("char_id", s.CharID))
	}
}

// Get returns the session for a charID, or nil if not found.
func (sm *SessionManager) Get(charID int64) *PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[charID]
}

// Count returns the number of currently connected sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot slice of all current sessions.
func (sm *SessionManager) All() []*PlayerSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*PlayerSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAllSessions closes every session and waits up to 10s for them to unregister.
func (sm *SessionManager) CloseAllSessions() {
	sessions := sm.All()
	sm.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && sm.Count() > 0 {
		time.Sleep(100 * time.Millisecond)
	}
}
