package storage

import (
	"context"
	"sync"

	"taskboard/domain"
)

// Memory keeps tasks in process. It backs tests and single-node dev runs.
type Memory struct {
	mu    sync.RWMutex
	tasks map[int64]domain.Task
}

func NewMemory(seed ...domain.Task) *Memory {
	m := &Memory{tasks: make(map[int64]domain.Task, len(seed))}
	for _, t := range seed {
		m.tasks[t.ID] = t.Clone()
	}
	return m
}

func (m *Memory) Get(_ context.Context, id int64) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	out := t.Clone()
	return &out, nil
}

func (m *Memory) List(_ context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()
	sortByID(out)
	return out, nil
}

func (m *Memory) Insert(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return ErrDuplicateID
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Replace(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return false, nil
	}
	delete(m.tasks, id)
	return true, nil
}

func (m *Memory) MaxID(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max int64
	for id := range m.tasks {
		if id > max {
			max = id
		}
	}
	return max, nil
}
