package book

import (
	"context"
	"fmt"
	"slices"

	"github.com/marcelsud/library-catalog/cache"
	"github.com/rs/zerolog"
)

/* Service represents the catalog use cases
 * Uses pointer semantics as it's an API, not data.
 * Reads go through the cache, writes are validated locally and then run as
 * cache mutations so the affected queries are refreshed.
 */

// UseCase defines the catalog operations used by the front API and the CLI
type UseCase interface {
	List(ctx context.Context) ([]Book, error)
	Get(ctx context.Context, id string) (Book, error)
	Summary(ctx context.Context) ([]SummaryItem, error)
	Create(ctx context.Context, in BookInput) (Book, error)
	Update(ctx context.Context, id string, in BookInput) (Book, error)
	Delete(ctx context.Context, id string) error
	Borrow(ctx context.Context, in BorrowInput) (BorrowRecord, error)
}

type Service struct {
	Repo      Repository
	Cache     *cache.Client
	Validator *Validator
	log       zerolog.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger used by the service.
func WithServiceLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = l
	}
}

// NewService creates a new catalog service with dependency injection
func NewService(repo Repository, client *cache.Client, v *Validator, opts ...ServiceOption) *Service {
	s := &Service{
		Repo:      repo,
		Cache:     client,
		Validator: v,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys of the catalog queries.
var (
	BooksKey   = cache.NewKey(cache.Books, "")
	SummaryKey = cache.NewKey(cache.BorrowSummary, "")
)

// BookKey addresses the detail query of a book. It carries the books tag, so every book mutation refreshes it.
func BookKey(id string) cache.Key {
	return cache.NewKey(cache.Books, id)
}

// List returns all books
func (s *Service) List(ctx context.Context) ([]Book, error) {
	all, err := cache.Query(ctx, s.Cache, BooksKey, s.fetchBooks)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return slices.Clone(all), nil
}

// Get returns the detail of a book
func (s *Service) Get(ctx context.Context, id string) (Book, error) {
	b, err := cache.Query(ctx, s.Cache, BookKey(id), s.fetchBook)
	if err != nil {
		return Book{}, fmt.Errorf("getting book %s: %w", id, err)
	}
	return b, nil
}

// Summary returns the borrow summary
func (s *Service) Summary(ctx context.Context) ([]SummaryItem, error) {
	items, err := cache.Query(ctx, s.Cache, SummaryKey, s.fetchSummary)
	if err != nil {
		return nil, fmt.Errorf("getting borrow summary: %w", err)
	}
	return slices.Clone(items), nil
}

// Create validates the form and creates the book
func (s *Service) Create(ctx context.Context, in BookInput) (Book, error) {
	b, err := s.Validator.ValidateBook(in)
	if err != nil {
		return Book{}, fmt.Errorf("validating book: %w", err)
	}
	created, err := cache.Mutate(ctx, s.Cache, cache.CreateBook, func(ctx context.Context) (Book, error) {
		return s.Repo.Create(ctx, b)
	})
	if err != nil {
		return Book{}, fmt.Errorf("creating book: %w", err)
	}
	s.log.Info().Str("id", created.ID).Str("isbn", created.ISBN).Msg("book created")
	return created.Normalize(), nil
}

// Update validates the form and replaces the book
func (s *Service) Update(ctx context.Context, id string, in BookInput) (Book, error) {
	b, err := s.Validator.ValidateBook(in)
	if err != nil {
		return Book{}, fmt.Errorf("validating book: %w", err)
	}
	b.ID = id
	updated, err := cache.Mutate(ctx, s.Cache, cache.UpdateBook, func(ctx context.Context) (Book, error) {
		return s.Repo.Update(ctx, b)
	})
	if err != nil {
		return Book{}, fmt.Errorf("updating book %s: %w", id, err)
	}
	return updated.Normalize(), nil
}

// Delete removes a book
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := cache.Mutate(ctx, s.Cache, cache.DeleteBook, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Repo.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("deleting book %s: %w", id, err)
	}
	return nil
}

/* Borrow validates the form and lends copies of a book.
 * When the book is cached the quantity is also checked against its copies.
 * The backend stays the authority: an unknown or stale book goes through and
 * the backend answer decides.
 */
func (s *Service) Borrow(ctx context.Context, in BorrowInput) (BorrowRecord, error) {
	r, err := s.Validator.ValidateBorrow(in)
	if err != nil {
		return BorrowRecord{}, fmt.Errorf("validating borrow: %w", err)
	}
	if b, ok := s.cachedBook(r.BookID); ok {
		if !b.CanBorrow() {
			return BorrowRecord{}, &ValidationError{Fields: FieldErrors{"book": "This book is not available"}}
		}
		if r.Quantity > b.Copies {
			return BorrowRecord{}, &ValidationError{Fields: FieldErrors{
				"quantity": fmt.Sprintf("Maximum available: %d", b.Copies),
			}}
		}
	}
	_, err = cache.Mutate(ctx, s.Cache, cache.BorrowBook, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Repo.Borrow(ctx, r)
	})
	if err != nil {
		return BorrowRecord{}, fmt.Errorf("borrowing book %s: %w", r.BookID, err)
	}
	s.log.Info().Str("book", r.BookID).Int("quantity", r.Quantity).Msg("book borrowed")
	return r, nil
}

// WatchBooks keeps fn updated with the book list until the watcher is closed
func (s *Service) WatchBooks(fn func(cache.View[[]Book])) *cache.Watcher[[]Book] {
	return cache.Watch(s.Cache, BooksKey, s.fetchBooks, detached(fn))
}

// WatchBook keeps fn updated with a book detail. Use Switch on the watcher to follow another book.
func (s *Service) WatchBook(id string, fn func(cache.View[Book])) *cache.Watcher[Book] {
	return cache.Watch(s.Cache, BookKey(id), s.fetchBook, fn)
}

// WatchSummary keeps fn updated with the borrow summary
func (s *Service) WatchSummary(fn func(cache.View[[]SummaryItem])) *cache.Watcher[[]SummaryItem] {
	return cache.Watch(s.Cache, SummaryKey, s.fetchSummary, detached(fn))
}

// detached hands fn its own copy of the cached collection; the store is only written through the cache.
func detached[E any](fn func(cache.View[[]E])) func(cache.View[[]E]) {
	return func(v cache.View[[]E]) {
		v.Data = slices.Clone(v.Data)
		fn(v)
	}
}

// cachedBook looks for a fresh copy of the book in the detail query, then in the list.
func (s *Service) cachedBook(id string) (Book, bool) {
	if e, ok := s.Cache.Peek(BookKey(id)); ok && e.Status == cache.Fulfilled && !e.Stale {
		if b, ok := e.Data.(Book); ok {
			return b, true
		}
	}
	if e, ok := s.Cache.Peek(BooksKey); ok && e.Status == cache.Fulfilled && !e.Stale {
		all, _ := e.Data.([]Book)
		for _, b := range all {
			if b.ID == id {
				return b, true
			}
		}
	}
	return Book{}, false
}

func (s *Service) fetchBooks(ctx context.Context, _ cache.Key) ([]Book, error) {
	all, err := s.Repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i] = all[i].Normalize()
	}
	return all, nil
}

func (s *Service) fetchBook(ctx context.Context, key cache.Key) (Book, error) {
	b, err := s.Repo.Get(ctx, key.ID)
	if err != nil {
		return Book{}, err
	}
	return b.Normalize(), nil
}

func (s *Service) fetchSummary(ctx context.Context, _ cache.Key) ([]SummaryItem, error) {
	return s.Repo.Summary(ctx)
}
