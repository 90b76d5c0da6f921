package verification

import (
	"context"
	"sync"
	"time"
)

// MemoryCodes is an in-memory CodeStore for tests.
type MemoryCodes struct {
	mu      sync.Mutex
	pending map[string]Pending
}

func NewMemoryCodes() *MemoryCodes {
	return &MemoryCodes{pending: map[string]Pending{}}
}

func (m *MemoryCodes) Put(ctx context.Context, phone string, p Pending, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[phone] = p
	return nil
}

func (m *MemoryCodes) ConsumeIfMatch(ctx context.Context, phone, code string, now time.Time) (Pending, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[phone]
	if !ok {
		return Pending{}, false, nil
	}
	if p.Code != code {
		return Pending{}, false, nil
	}
	delete(m.pending, phone)
	if !p.ExpiresAt.After(now) {
		return Pending{}, false, nil
	}
	return p, true, nil
}
