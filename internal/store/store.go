package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"coursebot/internal/model"
)

// ErrUnknownCohort is returned for queries on a cohort the store was not
// created with.
var ErrUnknownCohort = errors.New("unknown cohort")

// Store holds the latest normalized event list of every cohort.
//
// Lists are replaced wholesale and never modified in place, so a reader
// holding a list keeps a consistent snapshot while a refresh swaps in a new one.
type Store struct {
	mu     sync.RWMutex
	lists  map[string][]model.Event
	names  []string
	loaded map[string]time.Time
}

// New creates a store with an empty list for every cohort name.
func New(cohorts ...string) *Store {
	s := &Store{
		lists:  make(map[string][]model.Event, len(cohorts)),
		loaded: make(map[string]time.Time, len(cohorts)),
	}
	for _, c := range cohorts {
		if _, ok := s.lists[c]; ok {
			continue
		}
		s.lists[c] = nil
		s.names = append(s.names, c)
	}
	sort.Strings(s.names)
	return s
}

// Replace atomically swaps the cohort's list. events must already be sorted
// by start; the slice is copied so the caller may reuse it.
func (s *Store) Replace(cohort string, events []model.Event) error {
	list := make([]model.Event, len(events))
	copy(list, events)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[cohort]; !ok {
		return ErrUnknownCohort
	}
	s.lists[cohort] = list
	s.loaded[cohort] = time.Now()
	return nil
}

func (s *Store) list(cohort string) ([]model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lists[cohort]
	return l, ok
}

// NextEvent returns the first event starting strictly after now.
func (s *Store) NextEvent(cohort string, now time.Time) (model.Event, bool) {
	l, _ := s.list(cohort)
	i := sort.Search(len(l), func(i int) bool { return l[i].Start.After(now) })
	if i == len(l) {
		return model.Event{}, false
	}
	return l[i], true
}

// EventsInWindow returns the events with from < start < to, in order. Both
// bounds are exclusive.
func (s *Store) EventsInWindow(cohort string, from, to time.Time) []model.Event {
	l, _ := s.list(cohort)
	lo := sort.Search(len(l), func(i int) bool { return l[i].Start.After(from) })
	hi := lo
	for hi < len(l) && l[hi].Start.Before(to) {
		hi++
	}
	if lo == hi {
		return nil
	}
	out := make([]model.Event, hi-lo)
	copy(out, l[lo:hi])
	return out
}

// AllCohorts returns the current list of every cohort. The lists are shared
// snapshots and must not be modified.
func (s *Store) AllCohorts() map[string][]model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.Event, len(s.lists))
	for name, l := range s.lists {
		out[name] = l
	}
	return out
}

// Cohorts returns the cohort names in sorted order.
func (s *Store) Cohorts() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Has reports whether the cohort is known to the store.
func (s *Store) Has(cohort string) bool {
	_, ok := s.list(cohort)
	return ok
}

// Len returns the number of events cached for the cohort.
func (s *Store) Len(cohort string) int {
	l, _ := s.list(cohort)
	return len(l)
}

// LoadedAt returns when the cohort's list was last replaced.
func (s *Store) LoadedAt(cohort string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.loaded[cohort]
	return t, ok
}
