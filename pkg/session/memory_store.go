package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*ChatSession
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*ChatSession),
		now:      time.Now,
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, s *ChatSession) error {
	if s == nil {
		return errors.New("session cannot be nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrConflict
	}
	clone := cloneSession(s)
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = m.now()
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = clone.CreatedAt
	}
	if clone.Status == "" {
		clone.Status = StatusIdle
	}
	m.sessions[s.ID] = &clone
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return ChatSession{}, ErrNotFound
	}
	return cloneSession(s), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChatSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		clone := cloneSession(s)
		clone.Messages = nil
		out = append(out, clone)
	}
	sortSessions(out)
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, id string, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	added := cloneMessages(msgs)
	applyAppend(s, added, m.now())
	s.Messages = append(s.Messages, added...)
	return nil
}

// Messages implements Store.
func (m *MemoryStore) Messages(_ context.Context, id string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessages(s.Messages), nil
}

// SetStatus implements Store.
func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	return nil
}

// BeginRun implements Store.
func (m *MemoryStore) BeginRun(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !s.Status.Idle() {
		return ErrBusy
	}
	s.Status = status
	return nil
}

// SetMembers implements Store.
func (m *MemoryStore) SetMembers(_ context.Context, id string, members []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	next := cloneSession(s)
	next.Members = append([]string(nil), members...)
	if err := next.Validate(); err != nil {
		return err
	}
	s.Members = next.Members
	s.UpdatedAt = m.now()
	return nil
}

// ToggleCollapse implements Store.
func (m *MemoryStore) ToggleCollapse(_ context.Context, id string, index int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if index < 0 || index >= len(s.Messages) {
		return false, ErrNoSuchIndex
	}
	s.Messages[index].IsCollapsed = !s.Messages[index].IsCollapsed
	return s.Messages[index].IsCollapsed, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func sortSessions(list []ChatSession) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
