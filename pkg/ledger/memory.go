package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryRecorder keeps records in process memory, in append order.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
	byKey   map[string]int
}

// NewMemoryRecorder creates an empty in-memory ledger.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		byID:  make(map[string]int),
		byKey: make(map[string]int),
	}
}

// Make sure we conform to the interface
var _ Recorder = (*MemoryRecorder)(nil)

func (m *MemoryRecorder) Append(ctx context.Context, rec Record) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := rec.Validate(); err != nil {
		return Receipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.byKey[rec.IdempotencyKey]; ok {
		existing := m.records[i]
		return Receipt{Id: existing.Id, Protocol: existing.Protocol}, nil
	}
	if rec.Id == "" {
		rec.Id = uuid.NewString()
	}
	rec.Protocol = fmt.Sprintf("mem-%08d", len(m.records)+1)
	m.records = append(m.records, rec)
	m.byID[rec.Id] = len(m.records) - 1
	m.byKey[rec.IdempotencyKey] = len(m.records) - 1
	return Receipt{Id: rec.Id, Protocol: rec.Protocol}, nil
}

func (m *MemoryRecorder) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.records[i], nil
}

func (m *MemoryRecorder) History(ctx context.Context, aggregateID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.AggregateId == aggregateID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len returns the number of distinct records appended.
func (m *MemoryRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
