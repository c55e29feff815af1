package secret

import "sync"

// MemoryStore keeps secrets for the life of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Put(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Subject] = rec
	return nil
}

func (m *MemoryStore) Get(subject string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[subject]
	if !ok {
		return Record{}, ErrSecretNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Delete(subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, subject)
	return nil
}
