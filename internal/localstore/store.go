// Package localstore provides the on-device persistence slot that holds the
// whole application state while no user identity is present.
package localstore

import (
	"context"
	"errors"
	"sync"

	"github.com/kpfarm/farmbook/internal/schema"
)

// DefaultSlot is the slot name used when none is configured.
const DefaultSlot = "agri-finance-data"

// ErrNotFound is returned by Load when the slot has never been written.
var ErrNotFound = errors.New("local slot not found")

// Store is a durable key-value slot holding one state snapshot.
//
// Implementations must survive process restarts (except Memory) and must be
// safe for concurrent use.
type Store interface {
	// Load returns the stored snapshot. It returns ErrNotFound when the slot
	// was never written or was cleared.
	Load(ctx context.Context) (schema.Snapshot, error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap schema.Snapshot) error

	// Clear resets the slot to empty.
	Clear(ctx context.Context) error
}

// LoadOrEmpty loads the slot and maps ErrNotFound to an empty snapshot.
func LoadOrEmpty(ctx context.Context, s Store) (schema.Snapshot, error) {
	snap, err := s.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return schema.Snapshot{}, nil
	}
	return snap, err
}

// Memory is an in-process Store used by tests and dry runs. It keeps the JSON
// encoding so callers observe the same round trip as a durable store.
type Memory struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context) (schema.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return schema.Snapshot{}, ErrNotFound
	}
	return schema.DecodeSnapshot(m.data)
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, snap schema.Snapshot) error {
	data, err := schema.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

// Clear implements Store.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// Saves returns how many times Save succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
