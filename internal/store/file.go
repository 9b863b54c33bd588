package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fundingkeeper/internal/core"
)

// File is a Memory-backed Store that snapshots its entire state to a JSON
// file after every mutation and reloads it at startup. Durable enough for
// a single-process keeper without bringing in a database driver; the sql
// backend is for multi-instance or audit-trail deployments.
type File struct {
	path string
	mu   sync.Mutex
	mem  *Memory
}

type fileSnapshot struct {
	Positions []core.Position         `json:"positions"`
	Incidents []core.SingleLegIncident `json:"incidents"`
}

func NewFile(path string) (*File, error) {
	f := &File{path: path, mem: NewMemory()}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: read %s: %w", f.path, err)
	}
	if len(raw) == 0 {
		return nil
	}
	var snap fileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	for _, p := range snap.Positions {
		f.mem.positions[p.ID] = p
	}
	for _, inc := range snap.Incidents {
		f.mem.incidents[inc.ID] = inc
	}
	return nil
}

// persist writes the full snapshot atomically via a temp-file rename, so a
// crash mid-write never leaves a truncated file behind.
func (f *File) persist() error {
	positions, _ := f.mem.ListPositions(context.Background())
	f.mem.mu.RLock()
	incidents := make([]core.SingleLegIncident, 0, len(f.mem.incidents))
	for _, inc := range f.mem.incidents {
		incidents = append(incidents, inc)
	}
	f.mem.mu.RUnlock()

	raw, err := json.MarshalIndent(fileSnapshot{Positions: positions, Incidents: incidents}, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *File) UpsertPosition(ctx context.Context, p core.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.UpsertPosition(ctx, p); err != nil {
		return err
	}
	return f.persist()
}

func (f *File) DeletePosition(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.DeletePosition(ctx, id); err != nil {
		return err
	}
	return f.persist()
}

func (f *File) ListPositions(ctx context.Context) ([]core.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem.ListPositions(ctx)
}

func (f *File) SaveIncident(ctx context.Context, inc core.SingleLegIncident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.SaveIncident(ctx, inc); err != nil {
		return err
	}
	return f.persist()
}

func (f *File) ResolveIncident(ctx context.Context, id string, resolvedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.ResolveIncident(ctx, id, resolvedAt); err != nil {
		return err
	}
	return f.persist()
}

func (f *File) ListOpenIncidents(ctx context.Context) ([]core.SingleLegIncident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem.ListOpenIncidents(ctx)
}

func (f *File) Close() error { return nil }
