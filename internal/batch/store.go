// Package batch holds the ordered work-item store and the sequential
// processor that drives answer sheets through the oracle one at a time.
package batch

import (
	"fmt"
	"sync"

	"omrgrader/internal/model"
)

// Progress summarizes how far a batch has advanced.
type Progress struct {
	CompletedCount int `json:"completed_count"`
	ErrorCount     int `json:"error_count"`
	TotalTarget    int `json:"total_target"`
}

// Store is the ordered collection of batch items. The processor is the sole
// writer; readers always observe a consistent snapshot because every
// mutation replaces the whole collection rather than editing in place.
type Store struct {
	mu       sync.RWMutex
	items    []model.BatchItem
	expected int
}

// NewStore returns an empty item store.
func NewStore() *Store {
	return &Store{}
}

// Seed replaces the collection with the given items, all forced pending.
// Used at the start of a fresh run.
func (s *Store) Seed(items []model.BatchItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]model.BatchItem, len(items))
	copy(next, items)
	for i := range next {
		next[i].Status = model.StatusPending
	}
	s.items = next
}

// Append adds new pending items to the end of the collection without
// touching existing items' statuses or indices. It returns the index of the
// first appended item, which is the startIndex for resuming a finished run.
func (s *Store) Append(items []model.BatchItem) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := len(s.items)
	next := make([]model.BatchItem, len(s.items), len(s.items)+len(items))
	copy(next, s.items)
	for _, it := range items {
		it.Status = model.StatusPending
		next = append(next, it)
	}
	s.items = next
	return first
}

// SetExpectedCount declares how many sheets the batch is expected to hold,
// so progress can be reported against the declared target while uploads are
// still arriving. Zero means no declared target.
func (s *Store) SetExpectedCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expected = n
}

// Len returns the current number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Item returns a copy of the item at index i.
func (s *Store) Item(i int) (model.BatchItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.items) {
		return model.BatchItem{}, false
	}
	return s.items[i], true
}

// Items returns a snapshot copy of the whole collection.
func (s *Store) Items() []model.BatchItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BatchItem, len(s.items))
	copy(out, s.items)
	return out
}

// SetStatus transitions the item at index i and applies patch to the copy
// before the collection is swapped in. Terminal items cannot transition.
func (s *Store) SetStatus(i int, status model.BatchStatus, patch func(*model.BatchItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.items) {
		return fmt.Errorf("item index %d out of range", i)
	}
	if s.items[i].Status.Terminal() {
		return fmt.Errorf("item %d is already %s", i, s.items[i].Status)
	}
	next := make([]model.BatchItem, len(s.items))
	copy(next, s.items)
	next[i].Status = status
	if patch != nil {
		patch(&next[i])
	}
	s.items = next
	return nil
}

// HasPendingSheets reports whether any item is still pending.
func (s *Store) HasPendingSheets() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.Status == model.StatusPending {
			return true
		}
	}
	return false
}

// FirstPendingIndex returns the index of the first pending item, or -1.
func (s *Store) FirstPendingIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, it := range s.items {
		if it.Status == model.StatusPending {
			return i
		}
	}
	return -1
}

// Progress returns completion counters. The total target is the declared
// expected count when that exceeds the current length, else the length.
func (s *Store) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := Progress{TotalTarget: len(s.items)}
	if s.expected > p.TotalTarget {
		p.TotalTarget = s.expected
	}
	for _, it := range s.items {
		switch it.Status {
		case model.StatusCompleted:
			p.CompletedCount++
		case model.StatusError:
			p.ErrorCount++
		}
	}
	return p
}
