package rest_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/library-catalog/book"
	"github.com/marcelsud/library-catalog/book/rest"
	"github.com/marcelsud/library-catalog/internal/backendtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T, opts ...rest.Option) (*rest.Repository, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New(t)
	opts = append([]rest.Option{rest.WithBackoff(time.Millisecond, 5*time.Millisecond), rest.WithRateLimit(0)}, opts...)
	return rest.NewRepository(srv.BaseURL(), opts...), srv
}

func dune() backendtest.Book {
	return backendtest.Book{
		Title:     "Dune",
		Author:    "Frank Herbert",
		Genre:     "SCIENCE",
		ISBN:      "9780441013593",
		Copies:    3,
		Available: true,
	}
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	t.Run("list and get", func(t *testing.T) {
		repo, srv := newRepo(t)
		empty := dune()
		empty.ISBN = "0306406152"
		empty.Copies = 0
		ids := srv.Seed(dune(), empty)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, ids[0], all[0].ID)
		assert.Equal(t, book.Science, all[0].Genre)
		assert.False(t, all[1].Available)

		b, err := repo.Get(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "Dune", b.Title)
		assert.False(t, b.CreatedAt.IsZero())
	})
	t.Run("missing book", func(t *testing.T) {
		repo, _ := newRepo(t)
		_, err := repo.Get(ctx, "nope")
		assert.ErrorIs(t, err, book.ErrNotFound)
	})
	t.Run("retries server errors", func(t *testing.T) {
		repo, srv := newRepo(t)
		srv.Seed(dune())
		srv.FailNext(http.StatusServiceUnavailable, 2)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		assert.Equal(t, 3, srv.Requests(http.MethodGet, "/api/books"))
	})
	t.Run("gives up after the retry budget", func(t *testing.T) {
		repo, srv := newRepo(t, rest.WithMaxRetries(2))
		srv.FailNext(http.StatusInternalServerError, 10)

		_, err := repo.List(ctx)
		var unknownErr *book.UnknownError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, http.StatusInternalServerError, unknownErr.Status)
		assert.Equal(t, 3, srv.Requests(http.MethodGet, "/api/books"))
	})
	t.Run("client errors are not retried", func(t *testing.T) {
		repo, srv := newRepo(t)
		srv.FailNext(http.StatusBadRequest, 1)
		_, err := repo.List(ctx)
		assert.Error(t, err)
		assert.Equal(t, 1, srv.Requests(http.MethodGet, "/api/books"))
	})
	t.Run("timeout is a network error", func(t *testing.T) {
		repo, srv := newRepo(t, rest.WithRequestTimeout(20*time.Millisecond), rest.WithMaxRetries(0))
		srv.SetDelay(200 * time.Millisecond)

		_, err := repo.List(ctx)
		var networkErr *book.NetworkError
		require.ErrorAs(t, err, &networkErr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("unreachable backend", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		repo := rest.NewRepository(srv.URL, rest.WithMaxRetries(1), rest.WithBackoff(time.Millisecond, time.Millisecond))

		_, err := repo.Summary(ctx)
		var networkErr *book.NetworkError
		assert.ErrorAs(t, err, &networkErr)
	})
}

func TestWrite(t *testing.T) {
	ctx := context.Background()
	newBook := book.Book{
		Title:     "Dune",
		Author:    "Frank Herbert",
		Genre:     book.Science,
		ISBN:      "9780441013593",
		Copies:    2,
		Available: true,
	}

	t.Run("create update delete", func(t *testing.T) {
		repo, srv := newRepo(t)
		created, err := repo.Create(ctx, newBook)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)

		created.Title = "Dune Messiah"
		created.ISBN = "9780593098233"
		updated, err := repo.Update(ctx, created)
		require.NoError(t, err)
		assert.Equal(t, "Dune Messiah", updated.Title)

		stored, ok := srv.Book(created.ID)
		require.True(t, ok)
		assert.Equal(t, "9780593098233", stored.ISBN)

		require.NoError(t, repo.Delete(ctx, created.ID))
		_, ok = srv.Book(created.ID)
		assert.False(t, ok)
		assert.ErrorIs(t, repo.Delete(ctx, created.ID), book.ErrNotFound)
	})
	t.Run("duplicate isbn", func(t *testing.T) {
		repo, srv := newRepo(t)
		srv.Seed(dune())

		_, err := repo.Create(ctx, newBook)
		var conflictErr *book.ConflictError
		require.ErrorAs(t, err, &conflictErr)
		assert.Equal(t, "isbn", conflictErr.Field)
		assert.Equal(t, rest.MsgDuplicateISBN, conflictErr.Message)
	})
	t.Run("backend field errors", func(t *testing.T) {
		repo, _ := newRepo(t)
		invalid := newBook
		invalid.Title = ""
		_, err := repo.Create(ctx, invalid)
		var fieldErr *book.BackendFieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, book.FieldErrors{"title": "Title is required"}, fieldErr.Fields)
	})
	t.Run("writes are not retried", func(t *testing.T) {
		repo, srv := newRepo(t)
		srv.FailNext(http.StatusServiceUnavailable, 1)
		_, err := repo.Create(ctx, newBook)
		require.Error(t, err)
		assert.Equal(t, 1, srv.Requests(http.MethodPost, "/api/books"))
	})
}

func TestBorrow(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("borrow updates copies and summary", func(t *testing.T) {
		repo, srv := newRepo(t)
		ids := srv.Seed(dune())

		require.NoError(t, repo.Borrow(ctx, book.BorrowRecord{BookID: ids[0], Quantity: 2, DueDate: due}))
		require.NoError(t, repo.Borrow(ctx, book.BorrowRecord{BookID: ids[0], Quantity: 1, DueDate: due}))

		b, err := repo.Get(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, 0, b.Copies)
		assert.False(t, b.Available)

		items, err := repo.Summary(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "Dune", items[0].Book.Title)
		assert.Equal(t, 3, items[0].TotalQuantity)
	})
	t.Run("not enough copies", func(t *testing.T) {
		repo, srv := newRepo(t)
		ids := srv.Seed(dune())

		err := repo.Borrow(ctx, book.BorrowRecord{BookID: ids[0], Quantity: 5, DueDate: due})
		got := book.ResolveFormErrors(err, book.BorrowFormFields...)
		assert.Equal(t, book.FieldErrors{"quantity": "Not enough copies available"}, got.Fields)
	})
	t.Run("unknown book goes to the banner", func(t *testing.T) {
		repo, _ := newRepo(t)
		err := repo.Borrow(ctx, book.BorrowRecord{BookID: "nope", Quantity: 1, DueDate: due})
		got := book.ResolveFormErrors(err, book.BorrowFormFields...)
		assert.Empty(t, got.Fields)
		assert.Equal(t, "Book not found", got.General)
	})
	t.Run("empty summary", func(t *testing.T) {
		repo, _ := newRepo(t)
		items, err := repo.Summary(ctx)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","data":{}}`))
	}))
	defer srv.Close()
	repo := rest.NewRepository(srv.URL)

	err := repo.Borrow(context.Background(), book.BorrowRecord{BookID: "abc", Quantity: 1, DueDate: time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	_, parseErr := uuid.Parse(got.Get("X-Request-ID"))
	assert.NoError(t, parseErr)
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.JSONEq(t, `{"book":"abc","quantity":1,"dueDate":"2030-01-15T00:00:00.000Z"}`, body)
}
