package intake

import (
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// Store is the ordered set of descriptors for one interaction. Order is
// insertion order. Reads return copies; mutation goes through Update.
type Store struct {
	ids IDGenerator

	mu      sync.RWMutex
	order   []string
	entries map[string]*FileDescriptor
	// issued holds every ID handed out, including removed ones.
	issued map[string]struct{}
}

// NewStore creates an empty store that draws identifiers from ids.
// A nil generator falls back to UUIDGenerator.
func NewStore(ids IDGenerator) *Store {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Store{
		ids:     ids,
		entries: make(map[string]*FileDescriptor),
		issued:  make(map[string]struct{}),
	}
}

// Append adds a descriptor for p with the given initial status.
func (s *Store) Append(p Payload, status Status) FileDescriptor {
	return s.AppendDescriptor(FileDescriptor{Payload: p, Status: status})
}

// AppendDescriptor assigns a fresh ID to d and appends it. Metadata fields
// are filled from the payload when present.
func (s *Store) AppendDescriptor(d FileDescriptor) FileDescriptor {
	if d.Payload != nil {
		d.Name = d.Payload.Name()
		d.Size = d.Payload.Size()
		d.MediaType = d.Payload.MediaType()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = s.nextID()
	s.entries[d.ID] = &d
	s.order = append(s.order, d.ID)
	return d
}

// nextID draws until the generator yields an ID this store has never issued,
// so a removed descriptor's ID is not handed to a later one.
func (s *Store) nextID() string {
	for {
		id := s.ids.NewID()
		if _, taken := s.issued[id]; !taken {
			s.issued[id] = struct{}{}
			return id
		}
	}
}

// Get returns a copy of the descriptor with the given ID.
func (s *Store) Get(id string) (FileDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.entries[id]
	if !ok {
		return FileDescriptor{}, false
	}
	return *d, true
}

// Update applies fn to the stored descriptor under the store lock. The ID is
// restored after fn runs, so it cannot be changed.
func (s *Store) Update(id string, fn func(d *FileDescriptor) error) (FileDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.entries[id]
	if !ok {
		return FileDescriptor{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	next := *d
	if err := fn(&next); err != nil {
		return *d, err
	}
	next.ID = id
	*d = next
	return next, nil
}

// Remove deletes the descriptor and returns what was removed.
func (s *Store) Remove(id string) (FileDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.entries[id]
	if !ok {
		return FileDescriptor{}, false
	}
	delete(s.entries, id)
	s.order = lo.Without(s.order, id)
	return *d, true
}

// List returns copies of all descriptors in insertion order.
func (s *Store) List() []FileDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Map(s.order, func(id string, _ int) FileDescriptor {
		return *s.entries[id]
	})
}

// Len returns the number of descriptors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Clear removes everything and returns what was removed, in order.
func (s *Store) Clear() []FileDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := lo.Map(s.order, func(id string, _ int) FileDescriptor {
		return *s.entries[id]
	})
	s.order = nil
	s.entries = make(map[string]*FileDescriptor)
	return removed
}
