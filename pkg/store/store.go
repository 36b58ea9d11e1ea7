// Package store persists reconciliation history and the admin audit
// trail. The daemon never reads its own history to make decisions; the
// store exists for operators.
package store

import "factory-wgserver/pkg/model"

// Store is the persistence layer for pass records and audit entries.
type Store interface {
	SavePass(model.PassRecord) error
	ListPasses(limit int) ([]model.PassRecord, error)
	AppendAudit(model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)
	Ping() error
}

// NewMemory constructs the in-memory implementation without importing it
// directly.
func NewMemory() Store {
	return NewMemoryStore()
}
