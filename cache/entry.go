package cache

import (
	"fmt"
	"time"
)

// Key addresses one cached query: a tag plus an optional resource id.
type Key struct {
	Tag Tag
	ID  string
}

// NewKey builds a key. An empty id addresses the collection query of the tag.
func NewKey(tag Tag, id string) Key {
	return Key{Tag: tag, ID: id}
}

func (k Key) String() string {
	if k.ID == "" {
		return k.Tag.String()
	}
	return fmt.Sprintf("%s/%s", k.Tag, k.ID)
}

/* Status represents the lifecycle of a cache entry
 * Follows: Pending -> Fulfilled/Error, with refetches going back through the executor
 */
type Status int

const (
	Pending Status = iota + 1
	Fulfilled
	Errored
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

/* Entry is a snapshot of a cached query.
 * Data is always a whole value as returned by the fetch; it is kept when the
 * entry becomes stale or a refetch fails.
 * Generation guards commits, Version grows with every change and orders snapshots.
 */
type Entry struct {
	Key         Key
	Data        any
	Status      Status
	Err         error
	Stale       bool
	Subscribers int
	Generation  uint64
	Version     uint64
	UpdatedAt   time.Time
}

// View is the typed form of an Entry handed to watchers.
type View[T any] struct {
	Key     Key
	Status  Status
	Data    T
	Err     error
	Stale   bool
	Version uint64
}

func viewOf[T any](e Entry) View[T] {
	v := View[T]{
		Key:     e.Key,
		Status:  e.Status,
		Err:     e.Err,
		Stale:   e.Stale,
		Version: e.Version,
	}
	if data, ok := e.Data.(T); ok {
		v.Data = data
	}
	return v
}
