package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Registry implementation for tests and early
// development. Same read/write semantics as the Postgres store.
type MemoryStore struct {
	mu sync.Mutex

	helpers   map[string]Helper
	customers map[string]Customer
	pairings  map[string]string // key: phone|role -> peer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		helpers:   map[string]Helper{},
		customers: map[string]Customer{},
		pairings:  map[string]string{},
	}
}

func (m *MemoryStore) SaveHelper(ctx context.Context, h Helper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.helpers[h.Phone]; ok {
		h.RegisteredAt = old.RegisteredAt
	}
	m.helpers[h.Phone] = h
	return nil
}

func (m *MemoryStore) HelperExists(ctx context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.helpers[phone]
	return ok, nil
}

func (m *MemoryStore) HelperName(ctx context.Context, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.helpers[phone]
	if !ok {
		return "", ErrNotFound
	}
	return h.Name, nil
}

func (m *MemoryStore) DeleteHelper(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.helpers, phone)
	return nil
}

func (m *MemoryStore) AllHelpers(ctx context.Context) ([]Helper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Helper, 0, len(m.helpers))
	for _, h := range m.helpers {
		out = append(out, h)
	}
	return out, nil
}

func (m *MemoryStore) HelperZips(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.helpers))
	for _, h := range m.helpers {
		out = append(out, h.Zipcode)
	}
	return out, nil
}

func (m *MemoryStore) SaveCustomer(ctx context.Context, c Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.customers[c.Phone]; ok {
		c.CreatedAt = old.CreatedAt
	}
	m.customers[c.Phone] = c
	return nil
}

func (m *MemoryStore) CustomerExists(ctx context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.customers[phone]
	return ok, nil
}

func (m *MemoryStore) CustomerZipcode(ctx context.Context, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[phone]
	if !ok {
		return "", ErrNotFound
	}
	return c.Zipcode, nil
}

func (m *MemoryStore) DeleteCustomer(ctx context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customers, phone)
	return nil
}

func (m *MemoryStore) SetActivePairing(ctx context.Context, helperPhone, customerPhone string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairings[helperPhone+"|"+RoleHelper] = customerPhone
	m.pairings[customerPhone+"|"+RoleCustomer] = helperPhone
	return nil
}

func (m *MemoryStore) ActiveCustomer(ctx context.Context, helperPhone string) (string, error) {
	return m.peer(helperPhone, RoleHelper)
}

func (m *MemoryStore) ActiveHelper(ctx context.Context, customerPhone string) (string, error) {
	return m.peer(customerPhone, RoleCustomer)
}

func (m *MemoryStore) peer(phone, role string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairings[phone+"|"+role]
	if !ok {
		return "", ErrNotFound
	}
	return p, nil
}
