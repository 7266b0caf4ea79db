package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. Entries expire lazily on Get.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

type memoryEntry struct {
	sess      Session
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, sess Session) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{sess: sess, expiresAt: m.nowFunc().Add(m.ttl)}
	return id, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	if !m.nowFunc().Before(ent.expiresAt) {
		delete(m.entries, id)
		return nil, nil
	}
	sess := ent.sess
	return &sess, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}
