package book

import "time"

// BorrowRecord is a write-only request to lend copies of a book. It is never cached.
type BorrowRecord struct {
	BookID   string
	Quantity int
	DueDate  time.Time
}

// SummaryBook is the slice of book data carried by the borrow summary.
type SummaryBook struct {
	Title string
	ISBN  string
}

/* SummaryItem is a backend computed aggregate of all borrows of one book.
 * The client treats it as derived data and never edits it.
 */
type SummaryItem struct {
	Book          SummaryBook
	TotalQuantity int
}

// TotalBorrowed sums the quantities of a summary.
func TotalBorrowed(items []SummaryItem) int {
	total := 0
	for _, it := range items {
		total += it.TotalQuantity
	}
	return total
}
