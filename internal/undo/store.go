package undo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/skillgate/internal/model"
)

// Entry is one reversible action and the invocation that reverses it.
type Entry struct {
	ActionID   string        `json:"action_id"`
	Capability string        `json:"capability"`
	Inverse    model.Inverse `json:"inverse"`
	CreatedAt  time.Time     `json:"created_at"`
	Consumed   bool          `json:"consumed"`
	ConsumedAt time.Time     `json:"consumed_at,omitempty"`
}

// Store persists undo entries. Get and MarkConsumed return errors
// matching model.ErrUndoNotFound and model.ErrUndoAlreadyConsumed.
type Store interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, actionID string) (Entry, error)
	MarkConsumed(ctx context.Context, actionID string, at time.Time) error

	// Last returns the newest unconsumed entry for capability, or for any
	// capability when capability is empty.
	Last(ctx context.Context, capability string) (Entry, error)

	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)

	Close() error
}

// MemoryStore keeps entries in process. Entries do not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ActionID]; !ok {
		m.order = append(m.order, e.ActionID)
	}
	cp := e
	m.entries[e.ActionID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, actionID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[actionID]
	if !ok {
		return Entry{}, model.Errorf(model.ReasonUndoNotFound, "no undo entry %q", actionID)
	}
	return *e, nil
}

func (m *MemoryStore) MarkConsumed(_ context.Context, actionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[actionID]
	if !ok {
		return model.Errorf(model.ReasonUndoNotFound, "no undo entry %q", actionID)
	}
	if e.Consumed {
		return model.Errorf(model.ReasonUndoAlreadyConsumed, "%q was undone at %s", actionID, e.ConsumedAt.UTC().Format(time.RFC3339))
	}
	e.Consumed = true
	e.ConsumedAt = at
	return nil
}

func (m *MemoryStore) Last(_ context.Context, capability string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.entries[m.order[i]]
		if e.Consumed {
			continue
		}
		if capability == "" || strings.EqualFold(e.Capability, capability) {
			return *e, nil
		}
	}
	return Entry{}, model.Errorf(model.ReasonUndoNotFound, "nothing to undo")
}

func (m *MemoryStore) Recent(_ context.Context, n int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.entries[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
