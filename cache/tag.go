package cache

import "fmt"

/* Tag identifies a class of cached queries that share an invalidation lifecycle.
 * Tags and mutation kinds are typed so the invalidation graph is checked by the
 * compiler instead of by string convention.
 */
type Tag int

const (
	Books Tag = iota + 1
	BorrowSummary
)

// String returns the string representation of the tag
func (t Tag) String() string {
	switch t {
	case Books:
		return "books"
	case BorrowSummary:
		return "borrowSummary"
	default:
		return "unknown"
	}
}

// Validate checks if the tag is valid
func (t Tag) Validate() error {
	if t < Books || t > BorrowSummary {
		return fmt.Errorf("invalid tag: %d", t)
	}
	return nil
}

// MutationKind names a write operation against the backend.
type MutationKind int

const (
	CreateBook MutationKind = iota + 1
	UpdateBook
	DeleteBook
	BorrowBook
)

// String returns the string representation of the mutation kind
func (k MutationKind) String() string {
	switch k {
	case CreateBook:
		return "createBook"
	case UpdateBook:
		return "updateBook"
	case DeleteBook:
		return "deleteBook"
	case BorrowBook:
		return "borrowBook"
	default:
		return "unknown"
	}
}

// Validate checks if the mutation kind is valid
func (k MutationKind) Validate() error {
	if k < CreateBook || k > BorrowBook {
		return fmt.Errorf("invalid mutation kind: %d", k)
	}
	return nil
}

// invalidationGraph maps every mutation kind to the tags it makes stale.
var invalidationGraph = [...][]Tag{
	CreateBook: {Books},
	UpdateBook: {Books},
	DeleteBook: {Books},
	BorrowBook: {Books, BorrowSummary},
}

// Invalidates returns the tags a successful mutation of this kind makes stale.
func (k MutationKind) Invalidates() []Tag {
	if k.Validate() != nil {
		return nil
	}
	tags := make([]Tag, len(invalidationGraph[k]))
	copy(tags, invalidationGraph[k])
	return tags
}
