package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/DropZone/internal/model"
)

type memoryEntry struct {
	rec *model.FileRecord
	seq uint64
}

// MemoryStore provides an in-memory metadata store guarded by an RWMutex so
// concurrent lookups do not serialize behind each other.
type MemoryStore struct {
	mu      sync.RWMutex
	files   map[string]memoryEntry
	batches map[string]map[string]struct{}
	seq     uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:   make(map[string]memoryEntry),
		batches: make(map[string]map[string]struct{}),
	}
}

// Insert stores a copy of rec.
func (m *MemoryStore) Insert(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[rec.ShareID]; ok {
		return ErrDuplicate
	}
	m.seq++
	m.files[rec.ShareID] = memoryEntry{rec: rec.Clone(), seq: m.seq}
	if rec.BatchID != "" {
		members, ok := m.batches[rec.BatchID]
		if !ok {
			members = make(map[string]struct{})
			m.batches[rec.BatchID] = members
		}
		members[rec.ShareID] = struct{}{}
	}
	return nil
}

// Find returns a record copy.
func (m *MemoryStore) Find(_ context.Context, shareID string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.files[shareID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.rec.Clone(), nil
}

// FindByBatch returns copies of the batch members in insertion order.
func (m *MemoryStore) FindByBatch(_ context.Context, batchID string) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]memoryEntry, 0, len(m.batches[batchID]))
	for id := range m.batches[batchID] {
		entries = append(entries, m.files[id])
	}
	return sortedCopies(entries), nil
}

func (m *MemoryStore) CountByBatch(_ context.Context, batchID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.batches[batchID]), nil
}

func (m *MemoryStore) IncrementDownloads(_ context.Context, shareID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.files[shareID]
	if !ok {
		return 0, ErrNotFound
	}
	e.rec.DownloadCount++
	return e.rec.DownloadCount, nil
}

func (m *MemoryStore) Delete(_ context.Context, shareID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.files[shareID]
	if !ok {
		return ErrNotFound
	}
	delete(m.files, shareID)
	if batchID := e.rec.BatchID; batchID != "" {
		delete(m.batches[batchID], shareID)
		if len(m.batches[batchID]) == 0 {
			delete(m.batches, batchID)
		}
	}
	return nil
}

func (m *MemoryStore) ListExpiringBefore(_ context.Context, t time.Time) ([]*model.FileRecord, error) {
	return m.filter(func(r *model.FileRecord) bool { return r.ExpiresAt.Before(t) }), nil
}

func (m *MemoryStore) ListActive(_ context.Context, now time.Time) ([]*model.FileRecord, error) {
	return m.filter(func(r *model.FileRecord) bool { return !r.ExpiresAt.Before(now) }), nil
}

// Close is a no-op; it exists to satisfy Store.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) filter(keep func(*model.FileRecord) bool) []*model.FileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []memoryEntry
	for _, e := range m.files {
		if keep(e.rec) {
			entries = append(entries, e)
		}
	}
	return sortedCopies(entries)
}

func sortedCopies(entries []memoryEntry) []*model.FileRecord {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]*model.FileRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rec.Clone())
	}
	return out
}
