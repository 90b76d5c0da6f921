package callsession

import (
	"context"
	"sync"
)

// MemorySessions mirrors Sessions semantics in memory for tests.
type MemorySessions struct {
	mu sync.Mutex

	sessions map[string]*memSession
}

type memSession struct {
	candidates    []string
	candidatesSet bool
	resolved      bool
	fields        map[string]string
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: map[string]*memSession{}}
}

func (m *MemorySessions) Create(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callID]; !ok {
		m.sessions[callID] = &memSession{fields: map[string]string{}}
	}
	return nil
}

func (m *MemorySessions) SetCandidates(ctx context.Context, callID string, candidates []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return ErrNotFound
	}
	if sess.candidatesSet {
		return nil
	}
	sess.candidates = append([]string(nil), candidates...)
	sess.candidatesSet = true
	return nil
}

func (m *MemorySessions) Candidates(ctx context.Context, callID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok || !sess.candidatesSet {
		return nil, ErrNotFound
	}
	return append([]string(nil), sess.candidates...), nil
}

func (m *MemorySessions) TryResolve(ctx context.Context, callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return false, ErrNotFound
	}
	if sess.resolved {
		return false, nil
	}
	sess.resolved = true
	return true, nil
}

func (m *MemorySessions) MarkResolved(ctx context.Context, callID string) error {
	_, err := m.TryResolve(ctx, callID)
	if err == ErrNotFound {
		return nil
	}
	return err
}

func (m *MemorySessions) IsResolved(ctx context.Context, callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return true, nil
	}
	return sess.resolved, nil
}

func (m *MemorySessions) SetField(ctx context.Context, callID, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return ErrNotFound
	}
	sess.fields[field] = value
	return nil
}

func (m *MemorySessions) Field(ctx context.Context, callID, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	if !ok {
		return "", nil
	}
	return sess.fields[field], nil
}
