// Package correlation tracks in-flight DEBIT legs so the Switch can build
// the matching CREDIT when the remitter bank replies.
package correlation

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/axel-blaze-11/pheonix/internal/message"
)

// Entry is what the Switch remembers about a dispatched DEBIT.
type Entry struct {
	Key       string
	Details   message.PaymentDetails
	CreatedAt time.Time
}

// Store is a take-once map of correlation entries. Entries whose reply
// never arrives are never reclaimed.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Put stores entry under key, overwriting any existing one. replaced
// reports whether an entry was overwritten.
func (s *Store) Put(key string, entry Entry) (replaced bool) {
	entry.Key = key
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	s.mu.Lock()
	_, replaced = s.entries[key]
	s.entries[key] = entry
	s.mu.Unlock()

	if replaced {
		log.Printf("warning: correlation key %s reused, previous entry overwritten", key)
	}
	return replaced
}

// TakeIfPresent removes and returns the entry under key. A key is handed
// out to at most one caller.
func (s *Store) TakeIfPresent(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	return e, ok
}

// Len returns the number of in-flight entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns a copy of all entries, oldest first.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
