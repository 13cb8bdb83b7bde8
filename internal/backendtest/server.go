// Package backendtest runs an in-memory copy of the catalog REST backend for tests.
package backendtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Book is the backend representation of a book.
type Book struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Genre       string    `json:"genre"`
	ISBN        string    `json:"isbn"`
	Copies      int       `json:"copies"`
	Available   bool      `json:"available"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type borrow struct {
	ID       string    `json:"_id"`
	Book     string    `json:"book"`
	Quantity int       `json:"quantity"`
	DueDate  time.Time `json:"dueDate"`
}

type failure struct {
	status int
	left   int
}

/* Server behaves like the catalog backend: envelope responses, duplicate key
 * reports for ISBNs, field error maps and a borrow summary computed on read.
 * Every request is counted by method and path.
 */
type Server struct {
	*httptest.Server
	mu       sync.Mutex
	books    map[string]*Book
	order    []string
	borrows  []borrow
	seq      int
	requests map[string]int
	failures []failure
	delay    time.Duration
	now      func() time.Time
}

// New starts a server and closes it when the test ends.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		books:    make(map[string]*Book),
		requests: make(map[string]int),
		now:      time.Now,
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the value to hand to the REST client.
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

// Seed stores books as they are and returns their ids.
func (s *Server) Seed(books ...Book) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(books))
	for _, b := range books {
		b := b
		s.insert(&b)
		ids = append(ids, b.ID)
	}
	return ids
}

// Book returns the stored copy of a book.
func (s *Server) Book(id string) (Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return Book{}, false
	}
	return *b, true
}

// Requests returns how many times method and path were called, e.g. Requests("GET", "/api/books").
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

// FailNext answers the next n requests with status.
func (s *Server) FailNext(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, left: n})
}

// SetDelay makes every response wait d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.count)
	r.Use(s.inject)
	r.Route("/api", func(r chi.Router) {
		r.Get("/books", s.listBooks)
		r.Post("/books", s.createBook)
		r.Get("/books/{id}", s.getBook)
		r.Put("/books/{id}", s.updateBook)
		r.Delete("/books/{id}", s.deleteBook)
		r.Get("/borrow", s.summary)
		r.Post("/borrow", s.borrowBook)
	})
	return r
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.Method+" "+r.URL.Path]++
		delay := s.delay
		s.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		if len(s.failures) > 0 {
			status = s.failures[0].status
			s.failures[0].left--
			if s.failures[0].left <= 0 {
				s.failures = s.failures[1:]
			}
		}
		s.mu.Unlock()
		if status != 0 {
			respond(w, status, map[string]any{"success": false, "message": "Injected failure", "error": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	all := make([]Book, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, *s.books[id])
	}
	s.mu.Unlock()
	ok(w, http.StatusOK, "Books retrieved successfully", all)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	b, found := s.Book(chi.URLParam(r, "id"))
	if !found {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, "Book retrieved successfully", b)
}

func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	var in Book
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid JSON", "error": err.Error()})
		return
	}
	if fields := validate(in); len(fields) > 0 {
		validationFailed(w, fields)
		return
	}

	s.mu.Lock()
	if s.isbnTaken(in.ISBN, "") {
		s.mu.Unlock()
		duplicate(w, in.ISBN)
		return
	}
	s.insert(&in)
	created := in
	s.mu.Unlock()
	ok(w, http.StatusCreated, "Book created successfully", created)
}

func (s *Server) updateBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in Book
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid JSON", "error": err.Error()})
		return
	}
	if fields := validate(in); len(fields) > 0 {
		validationFailed(w, fields)
		return
	}

	s.mu.Lock()
	b, found := s.books[id]
	if !found {
		s.mu.Unlock()
		notFound(w)
		return
	}
	if s.isbnTaken(in.ISBN, id) {
		s.mu.Unlock()
		duplicate(w, in.ISBN)
		return
	}
	b.Title, b.Author, b.Genre, b.ISBN = in.Title, in.Author, in.Genre, in.ISBN
	b.Copies, b.Available, b.Description = in.Copies, in.Available, in.Description
	b.UpdatedAt = s.now()
	updated := *b
	s.mu.Unlock()
	ok(w, http.StatusOK, "Book updated successfully", updated)
}

func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	if _, found := s.books[id]; !found {
		s.mu.Unlock()
		notFound(w)
		return
	}
	delete(s.books, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	ok(w, http.StatusOK, "Book deleted successfully", nil)
}

func (s *Server) borrowBook(w http.ResponseWriter, r *http.Request) {
	var in borrow
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid JSON", "error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, found := s.books[in.Book]
	switch {
	case !found:
		respond(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Validation failed",
			"errors":  map[string]string{"book": "Book not found"},
		})
		return
	case in.Quantity < 1:
		validationFailed(w, map[string]string{"quantity": "Quantity must be a positive number"})
		return
	case in.Quantity > b.Copies:
		respond(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Validation failed",
			"errors":  map[string]string{"quantity": "Not enough copies available"},
		})
		return
	}

	b.Copies -= in.Quantity
	if b.Copies == 0 {
		b.Available = false
	}
	b.UpdatedAt = s.now()
	s.seq++
	in.ID = objectID(s.seq)
	s.borrows = append(s.borrows, in)
	ok(w, http.StatusCreated, "Book borrowed successfully", in)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	type summaryBook struct {
		Title string `json:"title"`
		ISBN  string `json:"isbn"`
	}
	type item struct {
		Book          summaryBook `json:"book"`
		TotalQuantity int         `json:"totalQuantity"`
	}

	s.mu.Lock()
	var items []item
	index := map[string]int{}
	for _, br := range s.borrows {
		i, seen := index[br.Book]
		if !seen {
			b := s.books[br.Book]
			if b == nil {
				continue
			}
			index[br.Book] = len(items)
			items = append(items, item{Book: summaryBook{Title: b.Title, ISBN: b.ISBN}})
			i = len(items) - 1
		}
		items[i].TotalQuantity += br.Quantity
	}
	s.mu.Unlock()
	if items == nil {
		items = []item{}
	}
	ok(w, http.StatusOK, "Borrowed books summary retrieved successfully", items)
}

// insert assigns an id and timestamps when missing. Callers hold s.mu.
func (s *Server) insert(b *Book) {
	s.seq++
	if b.ID == "" {
		b.ID = objectID(s.seq)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	b.UpdatedAt = b.CreatedAt
	if b.Copies == 0 {
		b.Available = false
	}
	s.books[b.ID] = b
	s.order = append(s.order, b.ID)
}

func (s *Server) isbnTaken(isbn, except string) bool {
	for id, b := range s.books {
		if id != except && b.ISBN == isbn {
			return true
		}
	}
	return false
}

func validate(b Book) map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(b.Title) == "" {
		fields["title"] = "Title is required"
	}
	if strings.TrimSpace(b.Author) == "" {
		fields["author"] = "Author is required"
	}
	if b.Copies < 0 {
		fields["copies"] = "Copies must be a positive number"
	}
	return fields
}

func objectID(n int) string {
	return fmt.Sprintf("%024x", n)
}

func ok(w http.ResponseWriter, status int, message string, data any) {
	respond(w, status, map[string]any{"success": true, "message": message, "data": data})
}

func notFound(w http.ResponseWriter) {
	respond(w, http.StatusNotFound, map[string]any{"success": false, "message": "Book not found", "error": "Book not found"})
}

func duplicate(w http.ResponseWriter, isbn string) {
	respond(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"message": "ISBN already exists",
		"error": map[string]any{
			"name":     "MongoServerError",
			"code":     11000,
			"keyValue": map[string]string{"isbn": isbn},
		},
	})
}

func validationFailed(w http.ResponseWriter, fields map[string]string) {
	errs := map[string]any{}
	for field, msg := range fields {
		errs[field] = map[string]string{"message": msg}
	}
	respond(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"message": "Validation failed",
		"error":   map[string]any{"name": "ValidationError", "errors": errs},
	})
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
