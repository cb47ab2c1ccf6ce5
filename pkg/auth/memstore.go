package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process session store. Suitable for the duplex
// transports where sessions live with the process; the HTTP transport
// should prefer the sqlite store so sessions survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[Key]*Session)}
}

func (m *MemoryStore) Get(ctx context.Context, key Key) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) List(ctx context.Context, user, provider string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for key, session := range m.sessions {
		if key.User == user && key.Provider == provider {
			out = append(out, cloneSession(session))
		}
	}
	return out, nil
}

func (m *MemoryStore) GetByState(ctx context.Context, state string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, session := range m.sessions {
		if session.State == state {
			return cloneSession(session), nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *MemoryStore) Put(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.Key()] = cloneSession(session)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, key)
	return nil
}

func (m *MemoryStore) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, session := range m.sessions {
		if sweepable(session, now, retention) {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed, nil
}

// cloneSession copies a session so callers never share the stored value.
func cloneSession(s *Session) *Session {
	out := *s
	out.Scopes = append([]string(nil), s.Scopes...)
	out.GrantedScopes = append([]string(nil), s.GrantedScopes...)
	return &out
}

var _ Store = (*MemoryStore)(nil)
