package store

import (
	"context"
	"sync"
	"time"

	"fundingkeeper/internal/core"
)

// Memory is the in-process Store backend: no durability across restarts,
// used by tests and by single-shot/dry-run invocations.
type Memory struct {
	mu        sync.RWMutex
	positions map[string]core.Position
	incidents map[string]core.SingleLegIncident
}

func NewMemory() *Memory {
	return &Memory{
		positions: make(map[string]core.Position),
		incidents: make(map[string]core.SingleLegIncident),
	}
}

func (m *Memory) UpsertPosition(_ context.Context, p core.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

func (m *Memory) DeletePosition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, id)
	return nil
}

func (m *Memory) ListPositions(_ context.Context) ([]core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) SaveIncident(_ context.Context, inc core.SingleLegIncident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[inc.ID] = inc
	return nil
}

func (m *Memory) ResolveIncident(_ context.Context, id string, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil
	}
	inc.ResolvedAt = &resolvedAt
	m.incidents[id] = inc
	return nil
}

func (m *Memory) ListOpenIncidents(_ context.Context) ([]core.SingleLegIncident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.SingleLegIncident, 0)
	for _, inc := range m.incidents {
		if inc.ResolvedAt == nil {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
