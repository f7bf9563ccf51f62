package ledger

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"coursebot/internal/model"
)

// Kind tags the notification a key was recorded for.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindDigest   Kind = "digest"
)

// Key identifies one notification of one event occurrence.
type Key string

// KeyFor builds the key from the event id, its start truncated to the minute
// and the notification kind.
func KeyFor(ev model.Event, kind Kind) Key {
	start := ev.Start.UTC().Truncate(time.Minute).Format("2006-01-02T15:04")
	return Key(ev.ID + "_" + start + "_" + string(kind))
}

// Ledger records the notifications already attempted. Entries only leave the
// ledger through Clear.
type Ledger struct {
	keys mapset.Set[Key]
}

func New() *Ledger {
	return &Ledger{keys: mapset.NewSet[Key]()}
}

// Claim inserts key and reports whether it was absent. The check and the
// insert happen under one lock, so concurrent callers claiming the same key
// get exactly one true.
func (l *Ledger) Claim(key Key) bool {
	return l.keys.Add(key)
}

// Seen reports whether key was already claimed.
func (l *Ledger) Seen(key Key) bool {
	return l.keys.Contains(key)
}

// Clear drops every key.
func (l *Ledger) Clear() int {
	n := l.keys.Cardinality()
	l.keys.Clear()
	return n
}

// Len returns the number of recorded keys.
func (l *Ledger) Len() int {
	return l.keys.Cardinality()
}
