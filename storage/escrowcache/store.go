package escrowcache

import (
	"sync"
	"time"

	"escrowkit/native/escrow"
)

// Snapshot is an immutable view of the store handed to subscribers.
type Snapshot struct {
	Escrows []*escrow.Escrow
	Loading bool
}

// Patch lists the fields UpdateEscrow may merge. Nil fields are left as they
// are. Identity, parties, amount and creation time are not patchable.
type Patch struct {
	Status       *escrow.Status
	Description  *string
	ExpiresAt    *time.Time
	TimeLeft     *time.Duration
	Transactions []escrow.Transaction
}

// Store holds the signed-in user's escrows, newest first, and a loading flag.
// It carries no transition logic; the escrow service is its only writer.
type Store struct {
	mu          sync.RWMutex
	escrows     []*escrow.Escrow
	loading     bool
	nextSubID   uint64
	subscribers map[uint64]func(Snapshot)
}

// New returns an empty store.
func New() *Store {
	return &Store{subscribers: make(map[uint64]func(Snapshot))}
}

// SetEscrows replaces the whole collection. Last write wins.
func (s *Store) SetEscrows(list []*escrow.Escrow) {
	s.mu.Lock()
	s.escrows = cloneAll(list)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// AddEscrow prepends one escrow.
func (s *Store) AddEscrow(e *escrow.Escrow) {
	if e == nil {
		return
	}
	s.mu.Lock()
	s.escrows = append([]*escrow.Escrow{e.Clone()}, s.escrows...)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// UpdateEscrow shallow-merges the patch into the escrow with the given ref.
// An unknown ref leaves the store untouched and reports false.
func (s *Store) UpdateEscrow(ref string, patch Patch) bool {
	s.mu.Lock()
	idx := s.indexLocked(ref)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	next := s.escrows[idx].Clone()
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Description != nil {
		desc := *patch.Description
		next.Description = &desc
	}
	if patch.ExpiresAt != nil {
		exp := *patch.ExpiresAt
		next.ExpiresAt = &exp
	}
	if patch.TimeLeft != nil {
		left := *patch.TimeLeft
		next.TimeLeft = &left
	}
	if patch.Transactions != nil {
		next.Transactions = append([]escrow.Transaction(nil), patch.Transactions...)
	}
	s.escrows[idx] = next
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
	return true
}

// ReplaceEscrow swaps the cached record for ref with e, keeping its position.
// Unknown refs are ignored.
func (s *Store) ReplaceEscrow(e *escrow.Escrow) bool {
	if e == nil {
		return false
	}
	s.mu.Lock()
	idx := s.indexLocked(e.Ref)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.escrows[idx] = e.Clone()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
	return true
}

// RemoveEscrow drops the escrow with the given ref. Used for rollback only.
func (s *Store) RemoveEscrow(ref string) {
	s.mu.Lock()
	idx := s.indexLocked(ref)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.escrows = append(s.escrows[:idx:idx], s.escrows[idx+1:]...)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// SetLoading toggles the fetch-in-progress flag.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	if s.loading == loading {
		s.mu.Unlock()
		return
	}
	s.loading = loading
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// Get returns a copy of the escrow with the given ref.
func (s *Store) Get(ref string) (*escrow.Escrow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(ref)
	if idx < 0 {
		return nil, false
	}
	return s.escrows[idx].Clone(), true
}

// Loading reports the fetch-in-progress flag.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every mutation. The
// returned func removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) publish(snap Snapshot) {
	s.mu.RLock()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) indexLocked(ref string) int {
	for i, e := range s.escrows {
		if e.Ref == ref {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Escrows: cloneAll(s.escrows), Loading: s.loading}
}

func cloneAll(list []*escrow.Escrow) []*escrow.Escrow {
	out := make([]*escrow.Escrow, 0, len(list))
	for _, e := range list {
		if e != nil {
			out = append(out, e.Clone())
		}
	}
	return out
}
