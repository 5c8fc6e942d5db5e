package storage

import (
	"context"
	"sync"

	"github.com/noahxzhu/alarm-notify/internal/model"
)

type Memory struct {
	mu      sync.Mutex
	records map[string]model.ItemRecord

	// failWith, when set, is returned by every write.
	failWith error
}

func NewMemory() *Memory {
	return &Memory{records: map[string]model.ItemRecord{}}
}

func (m *Memory) LoadAll(ctx context.Context) (map[string]model.ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.ItemRecord, len(m.records))
	for id, r := range m.records {
		out[id] = r
	}
	return out, nil
}

func (m *Memory) SaveAll(ctx context.Context, records map[string]model.ItemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.records = make(map[string]model.ItemRecord, len(records))
	for id, r := range records {
		m.records[id] = r
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.records, id)
	return nil
}

// SetFailure switches write failures on or off.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Put seeds a record directly.
func (m *Memory) Put(r model.ItemRecord) {
	m.mu.Lock()
	m.records[r.ID] = r
	m.mu.Unlock()
}

// Close makes every later write fail with ErrClosed. Reads keep working.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.failWith = ErrClosed
	m.mu.Unlock()
	return nil
}
