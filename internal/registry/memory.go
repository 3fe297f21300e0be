package registry

import (
	"context"
	"sync"
)

// Memory is an in-process Registry. It backs the memory driver and tests.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]Entry
	available map[string]struct{}

	// Err, when set, is returned by every transition without changing state.
	Err error

	history []Entry
}

func NewMemory() *Memory {
	return &Memory{
		entries:   make(map[string]Entry),
		available: make(map[string]struct{}),
	}
}

func (m *Memory) MarkAvailable(ctx context.Context, workerID, baseURL string) error {
	return m.set(workerID, Entry{BaseURL: baseURL, State: StateAvailable})
}

func (m *Memory) MarkBusy(ctx context.Context, workerID, baseURL string) error {
	return m.set(workerID, Entry{BaseURL: baseURL, State: StateBusy})
}

func (m *Memory) set(workerID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	m.entries[workerID] = e
	if e.State == StateAvailable {
		m.available[workerID] = struct{}{}
	} else {
		delete(m.available, workerID)
	}
	m.history = append(m.history, e)
	return nil
}

func (m *Memory) MarkOffline(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	delete(m.entries, workerID)
	delete(m.available, workerID)
	m.history = append(m.history, Entry{State: StateOffline})
	return nil
}

func (m *Memory) Lookup(ctx context.Context, workerID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[workerID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) IsAvailable(ctx context.Context, workerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.available[workerID]
	return ok, nil
}

// States lists every transition applied so far, oldest first.
func (m *Memory) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, len(m.history))
	for i, e := range m.history {
		out[i] = e.State
	}
	return out
}

func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func (m *Memory) Close() error { return nil }
