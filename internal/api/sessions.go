package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kanveo/kanveo-cli/internal/importer"
)

// SessionManager holds in-flight import sessions by id. Sessions idle for
// longer than the TTL are dropped by Sweep, except while committing.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*importer.Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager returns an empty manager.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*importer.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Add registers s under its id.
func (m *SessionManager) Add(s *importer.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
}

// Get returns the session with id if it belongs to ownerID.
func (m *SessionManager) Get(ownerID, id string) (*importer.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.OwnerID() != ownerID {
		return nil, false
	}
	return s, true
}

// Remove drops the session with id.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of held sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes expired sessions and returns how many were dropped.
func (m *SessionManager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.State() == importer.StateCommitting {
			continue
		}
		if s.UpdatedAt().Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				zap.L().Debug("api: expired import sessions dropped", zap.Int("count", n))
			}
		}
	}
}
