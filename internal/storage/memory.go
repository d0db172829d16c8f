package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"ghostwall/internal/models"
)

// MemoryStorage implements the Store interface using an in-memory slice.
// This provider is ideal for development and testing; data is lost on restart.
type MemoryStorage struct {
	mu      sync.RWMutex
	nextID  int64
	records []*models.VisitRecord
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{nextID: 1}, nil
}

// Append writes a terminal record
func (m *MemoryStorage) Append(ctx context.Context, record *models.VisitRecord) error {
	if err := validateTerminal(record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.insertLocked(record)
	return nil
}

// BeginVisit writes an unclassified record unless the session key already has one
func (m *MemoryStorage) BeginVisit(ctx context.Context, record *models.VisitRecord) (bool, error) {
	if err := validateProvisional(record); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingIndexLocked(record.SessionKey) >= 0 {
		return false, nil
	}
	m.insertLocked(record)
	return true, nil
}

// Resolve replaces the newest unclassified record for sessionKey with a terminal one
func (m *MemoryStorage) Resolve(ctx context.Context, sessionKey string, verdict models.VisitorType, details string, at time.Time) (*models.VisitRecord, bool, error) {
	if !verdict.IsTerminal() {
		return nil, false, ErrNotTerminal
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.pendingIndexLocked(sessionKey)
	if idx < 0 {
		return nil, false, nil
	}

	pending := m.records[idx]
	m.records = append(m.records[:idx], m.records[idx+1:]...)

	stored := m.insertLocked(pending.Upgrade(at, verdict, details))

	out := *stored
	return &out, true, nil
}

// Query returns records matching filter
func (m *MemoryStorage) Query(ctx context.Context, filter Filter) ([]*models.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.VisitRecord, 0, len(m.records))
	for _, r := range m.records {
		if filter.matches(r) {
			// Return a copy to prevent external modification
			rc := *r
			out = append(out, &rc)
		}
	}

	sortRecords(out, filter.Oldest)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// PendingBefore returns unclassified records older than cutoff, oldest first
func (m *MemoryStorage) PendingBefore(ctx context.Context, cutoff time.Time) ([]*models.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.VisitRecord
	for _, r := range m.records {
		if r.VisitorType == models.VisitorUnclassified && r.Timestamp.Before(cutoff) {
			rc := *r
			out = append(out, &rc)
		}
	}
	sortRecords(out, true)
	return out, nil
}

// Clear removes every record
func (m *MemoryStorage) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	return nil
}

// Ping always succeeds for the memory backend
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) insertLocked(record *models.VisitRecord) *models.VisitRecord {
	rc := *record
	rc.ID = m.nextID
	rc.Timestamp = rc.Timestamp.UTC()
	m.nextID++
	m.records = append(m.records, &rc)
	return &rc
}

// pendingIndexLocked returns the index of the newest unclassified record for
// sessionKey, or -1.
func (m *MemoryStorage) pendingIndexLocked(sessionKey string) int {
	idx := -1
	for i, r := range m.records {
		if r.VisitorType != models.VisitorUnclassified || r.SessionKey != sessionKey {
			continue
		}
		if idx < 0 || !r.Timestamp.Before(m.records[idx].Timestamp) {
			idx = i
		}
	}
	return idx
}

// sortRecords orders by timestamp with the insertion id as tie-break.
func sortRecords(records []*models.VisitRecord, ascending bool) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if ascending {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.Timestamp.After(b.Timestamp)
		}
		if ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}
