package store

import (
	"sync"

	"factory-wgserver/pkg/model"
)

// maxHistory bounds in-memory retention.
const maxHistory = 500

// MemoryStore is the default backend: pass history survives only for the
// life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	passes []model.PassRecord
	audit  []model.AuditEntry
	nextID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (m *MemoryStore) SavePass(rec model.PassRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	m.passes = append(m.passes, rec)
	if len(m.passes) > maxHistory {
		m.passes = m.passes[len(m.passes)-maxHistory:]
	}
	return nil
}

func (m *MemoryStore) ListPasses(limit int) ([]model.PassRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.passes, limit), nil
}

func (m *MemoryStore) AppendAudit(e model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextID
	m.nextID++
	m.audit = append(m.audit, e)
	if len(m.audit) > maxHistory {
		m.audit = m.audit[len(m.audit)-maxHistory:]
	}
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.audit, limit), nil
}

func (m *MemoryStore) Ping() error { return nil }

// lastN returns the newest entries first.
func lastN[T any](xs []T, limit int) []T {
	if limit <= 0 || limit > len(xs) {
		limit = len(xs)
	}
	out := make([]T, 0, limit)
	for i := len(xs) - 1; i >= len(xs)-limit; i-- {
		out = append(out, xs[i])
	}
	return out
}
