package rest

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/marcelsud/library-catalog/book"
)

// MsgDuplicateISBN is shown on the isbn field when the backend rejects a duplicate.
const MsgDuplicateISBN = "This ISBN already exists in the database"

// duplicateKeyCode is the code the backend database reports for a unique index violation.
const duplicateKeyCode = 11000

/* envelope is the body of every backend response.
 * Failures carry either a string in "error", an object with a field map
 * ("errors") or a duplicate key report ("code", "keyValue"). Some routes put
 * the field map at the top level.
 */
type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    jsoniter.RawMessage `json:"data"`
	Error   jsoniter.RawMessage `json:"error"`
	Errors  jsoniter.RawMessage `json:"errors"`
}

type errorDetail struct {
	Name     string                         `json:"name"`
	Message  string                         `json:"message"`
	Code     int                            `json:"code"`
	KeyValue map[string]any                 `json:"keyValue"`
	Errors   map[string]jsoniter.RawMessage `json:"errors"`
}

type bookDTO struct {
	ID          string     `json:"_id,omitempty"`
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	Genre       string     `json:"genre"`
	ISBN        string     `json:"isbn"`
	Copies      int        `json:"copies"`
	Available   bool       `json:"available"`
	Description string     `json:"description,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func newBookDTO(b book.Book) bookDTO {
	return bookDTO{
		Title:       b.Title,
		Author:      b.Author,
		Genre:       b.Genre.String(),
		ISBN:        b.ISBN,
		Copies:      b.Copies,
		Available:   b.Available,
		Description: b.Description,
	}
}

// toBook converts the wire form. Unknown genres are kept as the zero Genre, the backend owns the record.
func (d bookDTO) toBook() book.Book {
	genre, _ := book.ParseGenre(d.Genre)
	b := book.Book{
		ID:          d.ID,
		Title:       d.Title,
		Author:      d.Author,
		Genre:       genre,
		ISBN:        d.ISBN,
		Copies:      d.Copies,
		Available:   d.Available,
		Description: d.Description,
	}
	if d.CreatedAt != nil {
		b.CreatedAt = *d.CreatedAt
	}
	if d.UpdatedAt != nil {
		b.UpdatedAt = *d.UpdatedAt
	}
	return b.Normalize()
}

type summaryDTO struct {
	Book struct {
		Title string `json:"title"`
		ISBN  string `json:"isbn"`
	} `json:"book"`
	TotalQuantity int `json:"totalQuantity"`
}

type borrowDTO struct {
	Book     string `json:"book"`
	Quantity int    `json:"quantity"`
	DueDate  string `json:"dueDate"`
}

// newBorrowDTO sends the due date as midnight UTC with milliseconds, e.g. 2026-03-20T00:00:00.000Z.
func newBorrowDTO(r book.BorrowRecord) borrowDTO {
	due := time.Date(r.DueDate.Year(), r.DueDate.Month(), r.DueDate.Day(), 0, 0, 0, 0, time.UTC)
	return borrowDTO{
		Book:     r.BookID,
		Quantity: r.Quantity,
		DueDate:  due.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// decodeError turns a non 2xx answer into one of the catalog error types.
func decodeError(status int, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if status == http.StatusNotFound {
			return fmt.Errorf("backend: %w", book.ErrNotFound)
		}
		msg := strings.TrimSpace(string(raw))
		if msg == "" || len(msg) > 200 {
			msg = http.StatusText(status)
		}
		return &book.UnknownError{Status: status, Message: msg}
	}

	var detail errorDetail
	var errText string
	if len(env.Error) > 0 {
		if err := json.Unmarshal(env.Error, &errText); err != nil {
			_ = json.Unmarshal(env.Error, &detail)
		}
	}

	if detail.Code == duplicateKeyCode {
		for field := range detail.KeyValue {
			return conflict(field)
		}
		return conflict("isbn")
	}
	if status == http.StatusConflict || isDuplicateISBN(env.Message) || isDuplicateISBN(errText) {
		return conflict("isbn")
	}

	fields := fieldMessages(detail.Errors)
	if len(fields) == 0 && len(env.Errors) > 0 {
		var top map[string]jsoniter.RawMessage
		if err := json.Unmarshal(env.Errors, &top); err == nil {
			fields = fieldMessages(top)
		}
	}
	if len(fields) > 0 {
		return &book.BackendFieldError{Message: env.Message, Fields: fields}
	}

	if status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", firstNonEmpty(env.Message, errText, "backend"), book.ErrNotFound)
	}
	return &book.UnknownError{
		Status:  status,
		Message: firstNonEmpty(env.Message, errText, detail.Message, http.StatusText(status)),
	}
}

// fieldMessages accepts both {"field": "message"} and {"field": {"message": "..."}}.
func fieldMessages(in map[string]jsoniter.RawMessage) book.FieldErrors {
	out := book.FieldErrors{}
	for field, raw := range in {
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil {
			out[field] = msg
			continue
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
			out[field] = obj.Message
		}
	}
	return out
}

func conflict(field string) *book.ConflictError {
	msg := fmt.Sprintf("This %s already exists", field)
	if field == "isbn" {
		msg = MsgDuplicateISBN
	}
	return &book.ConflictError{Field: field, Message: msg}
}

func isDuplicateISBN(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "isbn") && (strings.Contains(s, "already exists") || strings.Contains(s, "duplicate"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
