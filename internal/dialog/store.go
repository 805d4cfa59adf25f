package dialog

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a suspended dialog survives without a reply.
const DefaultTTL = 30 * time.Minute

// Store persists dialog state between turns. Load returns nil, nil when no
// live state exists for key.
type Store interface {
	Load(ctx context.Context, key string) (*State, error)
	Save(ctx context.Context, key string, st State) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps dialog state in process memory. State is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		states: make(map[string]State),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *MemoryStore) Load(_ context.Context, key string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key]
	if !ok {
		return nil, nil
	}
	if m.now().Sub(st.UpdatedAt) > m.ttl {
		delete(m.states, key)
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = m.now()
	}
	m.states[key] = st
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

// Len reports the number of stored dialogs, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
