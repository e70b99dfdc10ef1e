package storage

import (
	"context"
	"sort"
	"sync"

	"investments/internal/investment"

	"github.com/google/uuid"
)

// Memory keeps records in process. Values are copied in and out so callers
// never share slices with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[uuid.UUID]investment.Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[uuid.UUID]investment.Record)}
}

func (m *Memory) Load(_ context.Context, account uuid.UUID) (investment.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRecord(m.records[account]), nil
}

func (m *Memory) Save(_ context.Context, account uuid.UUID, rec investment.Record) error {
	m.mu.Lock()
	m.records[account] = cloneRecord(rec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteAll(_ context.Context, account uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[account]
	if !ok {
		return nil
	}
	rec.Holdings = nil
	m.records[account] = rec
	return nil
}

func (m *Memory) Accounts(context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *Memory) Close() error { return nil }

func cloneRecord(rec investment.Record) investment.Record {
	out := investment.Record{AutoCollect: rec.AutoCollect}
	if len(rec.Holdings) > 0 {
		out.Holdings = append([]investment.Holding(nil), rec.Holdings...)
	}
	return out
}
