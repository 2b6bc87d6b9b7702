package session

import (
	"fmt"
	"sort"
	"sync"
)

// Entry is one registered session as returned by Drain.
type Entry struct {
	ID uint64
	Rx *Rx
}

// Table maps open session ids to their receive sides.
type Table struct {
	mu    sync.RWMutex
	items map[uint64]*Rx
}

func NewTable() *Table {
	return &Table{
		items: make(map[uint64]*Rx),
	}
}

func (t *Table) Register(id uint64, rx *Rx) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; ok {
		return fmt.Errorf("%w: %d", ErrSessionRegistered, id)
	}
	t.items[id] = rx
	return nil
}

func (t *Table) Get(id uint64) (*Rx, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rx, ok := t.items[id]
	return rx, ok
}

func (t *Table) Remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, id)
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

func (t *Table) IDs() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint64, 0, len(t.items))
	for id := range t.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i] < out[j]
	})
	return out
}

// Drain removes every session and returns them ordered by id. Each entry is
// returned exactly once.
func (t *Table) Drain() []Entry {
	t.mu.Lock()
	items := t.items
	t.items = make(map[uint64]*Rx)
	t.mu.Unlock()

	out := make([]Entry, 0, len(items))
	for id, rx := range items {
		out = append(out, Entry{ID: id, Rx: rx})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
