package cfa

import (
	"strings"
	"sync"
)

// LockSet hands out one mutex per fragment source. A source is identified by
// the candidate location tried first, so partitions reading the same file
// share a lock whatever fallbacks they declare.
type LockSet struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLockSet() *LockSet {
	return &LockSet{locks: map[string]*sync.Mutex{}}
}

// Lock returns the lock of the source with the given candidate locations.
// Candidates are ranked with OrderLocations before picking the key.
func (s *LockSet) Lock(location []string) *sync.Mutex {
	key := sourceKey(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = map[string]*sync.Mutex{}
	}
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Len is the number of distinct sources seen
func (s *LockSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func sourceKey(location []string) string {
	for _, loc := range OrderLocations(location) {
		if loc = strings.TrimSpace(loc); loc != "" {
			return loc
		}
	}
	return ""
}
