package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tatianab/chronicle/internal/models"
)

// MemoryStore keeps documents in process. Used by tests and the simulator.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string]*memorySlot
}

type memorySlot struct {
	doc     models.RawDocument
	prev    models.RawDocument
	updated time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]*memorySlot)}
}

func (s *MemoryStore) Load(ctx context.Context, slot string) (models.RawDocument, error) {
	if err := ValidSlot(slot); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return sl.doc.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, slot string, doc models.RawDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slot]
	if !ok {
		sl = &memorySlot{}
		s.slots[slot] = sl
	}
	sl.prev = sl.doc
	sl.doc = doc.Clone()
	sl.updated = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[slot]; !ok {
		return ErrNotFound
	}
	delete(s.slots, slot)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]SlotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SlotInfo, 0, len(s.slots))
	for name, sl := range s.slots {
		out = append(out, SlotInfo{Slot: name, UpdatedAt: sl.updated, HasLastGood: sl.prev != nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (s *MemoryStore) LoadLastGood(ctx context.Context, slot string) (models.RawDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[slot]
	if !ok || sl.prev == nil {
		return nil, ErrNotFound
	}
	return sl.prev.Clone(), nil
}
