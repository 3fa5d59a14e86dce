package escrow

import (
	"context"
	"errors"
	"sync"
)

// ErrDuplicateExternalID is returned by Create when the external contract id
// is already mirrored by another record.
var ErrDuplicateExternalID = errors.New("external contract id already in use")

// Store abstracts escrow persistence.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	// Get returns (nil, nil) when the id is unknown.
	Get(ctx context.Context, id string) (*Escrow, error)
	// ByExternalID returns (nil, nil) when no record mirrors the id.
	ByExternalID(ctx context.Context, externalContractID string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]*Escrow
	byExternal map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*Escrow),
		byExternal: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byExternal[e.ExternalContractID]; exists {
		return ErrDuplicateExternalID
	}
	m.records[e.ID] = e.Clone()
	m.byExternal[e.ExternalContractID] = e.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id].Clone(), nil
}

func (m *MemoryStore) ByExternalID(_ context.Context, externalContractID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byExternal[externalContractID]
	if !ok {
		return nil, nil
	}
	return m.records[id].Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[e.ID]; !ok {
		return errors.New("escrow not found")
	}
	m.records[e.ID] = e.Clone()
	return nil
}
