package book

import "time"

/* Book is the local copy of a catalog record owned by the backend.
 * Value semantics: it represents data, the cache stores whole values.
 */
type Book struct {
	ID          string
	Title       string
	Author      string
	Genre       Genre
	ISBN        string
	Copies      int
	Available   bool
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Normalize applies the availability policy: a book without copies is never available.
func (b Book) Normalize() Book {
	if b.Copies <= 0 {
		b.Available = false
	}
	return b
}

// CanBorrow reports whether the book may be offered for borrowing.
func (b Book) CanBorrow() bool {
	return b.Available && b.Copies > 0
}
