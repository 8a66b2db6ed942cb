package usage

import (
	"container/list"
	"context"
	"sync"
)

// Memory is a process-local ledger holding at most capacity records.
type Memory struct {
	mu       sync.Mutex
	capacity int
	records  *list.List
}

// NewMemory creates an in-memory ledger.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultRetention
	}
	return &Memory{capacity: capacity, records: list.New()}
}

// Append adds rec at the back, dropping from the front past the cap.
func (m *Memory) Append(_ context.Context, rec Record) error {
	rec = prepare(rec)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records.PushBack(rec)
	for m.records.Len() > m.capacity {
		m.records.Remove(m.records.Front())
	}
	return nil
}

// Record appends rec.
func (m *Memory) Record(ctx context.Context, rec Record) {
	recordBestEffort(ctx, m, rec)
}

// Query returns the records matching f, oldest first.
func (m *Memory) Query(_ context.Context, f Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0)
	for e := m.records.Front(); e != nil; e = e.Next() {
		if rec := e.Value.(Record); f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Aggregate summarizes the records matching f.
func (m *Memory) Aggregate(ctx context.Context, f Filter) (Aggregate, error) {
	records, err := m.Query(ctx, f)
	if err != nil {
		return Aggregate{}, err
	}
	return Summarize(records), nil
}

// Recent returns up to limit records, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, min(limit, m.records.Len()))
	for e := m.records.Back(); e != nil && len(out) < limit; e = e.Prev() {
		out = append(out, e.Value.(Record))
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.Len(), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
