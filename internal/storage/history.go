package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// PersistenceError is returned when a slot write fails. The in-memory history
// is left exactly as it was before the failed call.
type PersistenceError struct {
	Slot string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Slot, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// History is a bounded, most-recent-first sequence of T persisted in a single
// slot. Mutations are serialized by an internal mutex; every Append and Clear
// rewrites the whole slot.
type History[T any] struct {
	mu       sync.RWMutex
	slot     Slot
	capacity int
	entries  []T
}

// NewHistory creates a history over slot and loads its current contents.
func NewHistory[T any](slot Slot, capacity int) *History[T] {
	if capacity <= 0 {
		panic("storage: history capacity must be positive")
	}
	h := &History[T]{slot: slot, capacity: capacity}
	h.Load()
	return h
}

// Capacity is the maximum number of retained entries.
func (h *History[T]) Capacity() int { return h.capacity }

// Load rebuilds the in-memory sequence from the slot. Missing or corrupt data
// yields an empty history; read failures are logged, never returned.
func (h *History[T]) Load() []T {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = h.read()
	return clone(h.entries)
}

func (h *History[T]) read() []T {
	data, err := h.slot.Read()
	if err != nil {
		log.Warn().Err(err).Str("slot", h.slot.Name()).Msg("history read failed, starting empty")
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var entries []T
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("slot", h.slot.Name()).Msg("history slot corrupt, starting empty")
		return nil
	}
	if len(entries) > h.capacity {
		entries = entries[:h.capacity]
	}
	return entries
}

// Append inserts entry at the head and drops whatever falls beyond capacity.
func (h *History[T]) Append(entry T) error {
	return h.AppendNotify(entry, nil)
}

// AppendNotify is Append with a hook that runs after the slot write commits
// and before the next mutation may start, so hooks observe commits in order.
// The hook receives the new sequence and must not call back into h.
func (h *History[T]) AppendNotify(entry T, committed func(entries []T)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.entries) + 1
	if n > h.capacity {
		n = h.capacity
	}
	next := make([]T, 0, n)
	next = append(next, entry)
	next = append(next, h.entries[:n-1]...)

	data, err := json.Marshal(next)
	if err != nil {
		return &PersistenceError{Slot: h.slot.Name(), Op: "encode", Err: err}
	}
	if err := h.slot.Write(data); err != nil {
		return &PersistenceError{Slot: h.slot.Name(), Op: "write", Err: err}
	}

	h.entries = next
	if committed != nil {
		committed(clone(next))
	}
	return nil
}

// List returns a snapshot, most recent first.
func (h *History[T]) List() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return clone(h.entries)
}

// Len is the number of retained entries.
func (h *History[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear destroys the slot. Clearing an empty history is a no-op.
func (h *History[T]) Clear() error {
	return h.ClearNotify(nil)
}

// ClearNotify is Clear with a post-commit hook, ordered like AppendNotify.
func (h *History[T]) ClearNotify(committed func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.slot.Delete(); err != nil {
		return &PersistenceError{Slot: h.slot.Name(), Op: "delete", Err: err}
	}
	h.entries = nil
	if committed != nil {
		committed()
	}
	return nil
}

func clone[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
