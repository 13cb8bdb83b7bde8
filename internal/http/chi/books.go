package chi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/marcelsud/library-catalog/book"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

/* HTTP layer DTOs for the catalog API
 * Responses use the same envelope as the backend so the pages can switch
 * between the two without changes.
 */

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

type bookResponse struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Genre       string    `json:"genre"`
	ISBN        string    `json:"isbn"`
	Copies      int       `json:"copies"`
	Available   bool      `json:"available"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type borrowResponse struct {
	Book     string    `json:"book"`
	Quantity int       `json:"quantity"`
	DueDate  time.Time `json:"dueDate"`
}

type summaryBookResponse struct {
	Title string `json:"title"`
	ISBN  string `json:"isbn"`
}

type summaryResponse struct {
	Book          summaryBookResponse `json:"book"`
	TotalQuantity int                 `json:"totalQuantity"`
}

func newBookResponse(b book.Book) bookResponse {
	return bookResponse{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Genre:       b.Genre.String(),
		ISBN:        b.ISBN,
		Copies:      b.Copies,
		Available:   b.Available,
		Description: b.Description,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

// getBooks handles GET /v1/books
func getBooks(bookService book.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		all, err := bookService.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]bookResponse, 0, len(all))
		for _, b := range all {
			result = append(result, newBookResponse(b))
		}
		writeData(w, http.StatusOK, "Books retrieved successfully", result)
	})
}

// getBook handles GET /v1/books/{id}
func getBook(bookService book.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := bookService.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, "Book retrieved successfully", newBookResponse(b))
	})
}

// postBook handles POST /v1/books
func postBook(bookService book.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in book.BookInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeBadRequest(w, err)
			return
		}
		b, err := bookService.Create(r.Context(), in)
		if err != nil {
			writeError(w, err, book.BookFormFields...)
			return
		}
		writeData(w, http.StatusCreated, "Book created successfully", newBookResponse(b))
	})
}

// putBook handles PUT /v1/books/{id}
func putBook(bookService book.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in book.BookInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeBadRequest(w, err)
			return
		}
		b, err := bookService.Update(r.Context(), chi.URLParam(r, "id"), in)
		if err != nil {
			writeError(w, err, book.BookFormFields...)
			return
		}
		writeData(w, http.StatusOK, "Book updated successfully", newBookResponse(b))
	})
}

// deleteBook handles DELETE /v1/books/{id}
func deleteBook(bookService book.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := bookService.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, "Book deleted successfully", nil)
	})
}

// getSummary handles GET /v1/borrow
func getSummary(bookService book.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items, err := bookService.Summary(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]summaryResponse, 0, len(items))
		for _, it := range items {
			result = append(result, summaryResponse{
				Book:          summaryBookResponse{Title: it.Book.Title, ISBN: it.Book.ISBN},
				TotalQuantity: it.TotalQuantity,
			})
		}
		writeData(w, http.StatusOK, "Borrowed books summary retrieved successfully", result)
	})
}

// postBorrow handles POST /v1/borrow
func postBorrow(bookService book.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in book.BorrowInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeBadRequest(w, err)
			return
		}
		rec, err := bookService.Borrow(r.Context(), in)
		if err != nil {
			writeError(w, err, book.BorrowFormFields...)
			return
		}
		writeData(w, http.StatusCreated, "Book borrowed successfully", borrowResponse{
			Book:     rec.BookID,
			Quantity: rec.Quantity,
			DueDate:  rec.DueDate,
		})
	})
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	write(w, http.StatusBadRequest, envelope{Message: "Invalid request body: " + err.Error()})
}

// writeError maps err onto the submitting form and picks the status from its type.
func writeError(w http.ResponseWriter, err error, formFields ...string) {
	fe := book.ResolveFormErrors(err, formFields...)
	msg := fe.General
	if msg == "" {
		msg = "Validation failed"
	}
	body := envelope{Message: msg}
	if len(fe.Fields) > 0 {
		body.Errors = fe.Fields
	}
	write(w, statusOf(err), body)
}

func statusOf(err error) int {
	var (
		validationErr *book.ValidationError
		conflictErr   *book.ConflictError
		fieldErr      *book.BackendFieldError
		networkErr    *book.NetworkError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &fieldErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.As(err, &networkErr):
		return http.StatusBadGateway
	case errors.Is(err, book.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
