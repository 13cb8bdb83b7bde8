package book

import "github.com/stretchr/testify/mock"

// MatchBook creates a custom matcher for book arguments in mocks
func MatchBook(matcher func(Book) bool) interface{} {
	return mock.MatchedBy(matcher)
}

// MatchBorrow creates a custom matcher for borrow record arguments in mocks
func MatchBorrow(matcher func(BorrowRecord) bool) interface{} {
	return mock.MatchedBy(matcher)
}
