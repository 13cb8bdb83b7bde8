package book

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

/* Validation schemas for the book and borrow forms.
 * They are pure: the only input besides the form is the clock used for due dates.
 * A failing validation never reaches the backend.
 */

// BookInput is the book form as submitted by the UI or read from a catalog file.
type BookInput struct {
	Title       string   `json:"title" yaml:"title" validate:"required"`
	Author      string   `json:"author" yaml:"author" validate:"required"`
	Genre       string   `json:"genre" yaml:"genre" validate:"genre"`
	ISBN        string   `json:"isbn" yaml:"isbn" validate:"required,isbn_format"`
	Copies      *float64 `json:"copies" yaml:"copies" validate:"required,whole,gte=0,safe_int"`
	Description string   `json:"description" yaml:"description"`
	Available   *bool    `json:"available,omitempty" yaml:"available"`
}

// BorrowInput is the borrow form. DueDate is a calendar date (2006-01-02) or an RFC 3339 timestamp.
type BorrowInput struct {
	BookID   string   `json:"book" validate:"required"`
	Quantity *float64 `json:"quantity" validate:"required,whole,gte=1,safe_int"`
	DueDate  string   `json:"dueDate" validate:"required,future_date"`
}

// BookFormFields are the fields rendered by the book form.
var BookFormFields = []string{"title", "author", "genre", "isbn", "copies", "description", "available"}

// BorrowFormFields are the fields rendered by the borrow form.
var BorrowFormFields = []string{"quantity", "dueDate"}

const dateLayout = "2006-01-02"

// maxWhole is the largest count accepted in a form: the largest integer a JSON number holds exactly, capped by int.
var maxWhole = math.Min(1<<53-1, float64(math.MaxInt))

var messages = map[string]string{
	"title.required":      "Book title is required",
	"author.required":     "Author name is required",
	"genre.genre":         "Please select a valid genre",
	"isbn.required":       "ISBN is required",
	"isbn.isbn_format":    "Please enter a valid ISBN",
	"copies.required":     "Copies is required",
	"copies.whole":        "Copies must be an integer",
	"copies.gte":          "Copies cannot be negative",
	"copies.safe_int":     "Copies is too large",
	"book.required":       "Book is required",
	"quantity.required":   "Quantity is required",
	"quantity.whole":      "Quantity must be an integer",
	"quantity.gte":        "Quantity must be at least 1",
	"quantity.safe_int":   "Quantity is too large",
	"dueDate.required":    "Due date is required",
	"dueDate.future_date": "Due date must be in the future",
}

// Validator wraps go-playground/validator with the catalog rules.
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

// ValidatorOption customises a Validator.
type ValidatorOption func(*Validator)

// WithClock sets the clock used to decide whether a due date is in the future.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a validator with the catalog rules registered.
func NewValidator(opts ...ValidatorOption) *Validator {
	val := &Validator{
		v:   validator.New(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(val)
	}

	// Use JSON tag names so errors line up with form fields
	val.v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	mustRegister(val.v, "isbn_format", func(fl validator.FieldLevel) bool {
		return ValidISBN(fl.Field().String())
	})
	mustRegister(val.v, "whole", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
	})
	mustRegister(val.v, "safe_int", func(fl validator.FieldLevel) bool {
		return fl.Field().Float() <= maxWhole
	})
	mustRegister(val.v, "genre", func(fl validator.FieldLevel) bool {
		_, err := ParseGenre(fl.Field().String())
		return err == nil
	})
	mustRegister(val.v, "future_date", func(fl validator.FieldLevel) bool {
		due, err := val.parseDueDate(fl.Field().String())
		if err != nil {
			return false
		}
		return due.After(val.today())
	})

	return val
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering %s validation: %v", tag, err))
	}
}

// ValidateBook checks a book form and returns the normalized Book.
func (v *Validator) ValidateBook(in BookInput) (Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Genre = strings.TrimSpace(in.Genre)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Description = strings.TrimSpace(in.Description)

	if err := v.validate(in); err != nil {
		return Book{}, err
	}

	genre, _ := ParseGenre(in.Genre)
	available := true
	if in.Available != nil {
		available = *in.Available
	}
	b := Book{
		Title:       in.Title,
		Author:      in.Author,
		Genre:       genre,
		ISBN:        in.ISBN,
		Copies:      int(*in.Copies),
		Available:   available,
		Description: in.Description,
	}
	return b.Normalize(), nil
}

/* ValidateBorrow checks a borrow form.
 * "Today" is read from the clock at validation time, so a form validated just
 * before midnight may reach the backend when its due date has become today.
 */
func (v *Validator) ValidateBorrow(in BorrowInput) (BorrowRecord, error) {
	in.BookID = strings.TrimSpace(in.BookID)
	in.DueDate = strings.TrimSpace(in.DueDate)

	if err := v.validate(in); err != nil {
		return BorrowRecord{}, err
	}

	due, _ := v.parseDueDate(in.DueDate)
	return BorrowRecord{
		BookID:   in.BookID,
		Quantity: int(*in.Quantity),
		DueDate:  time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC),
	}, nil
}

func (v *Validator) validate(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("validating input: %w", err)
	}
	fields := FieldErrors{}
	for _, e := range validationErrs {
		// Keep the first failing rule per field
		if _, seen := fields[e.Field()]; seen {
			continue
		}
		fields[e.Field()] = friendlyMessage(e)
	}
	return &ValidationError{Fields: fields}
}

func friendlyMessage(e validator.FieldError) string {
	if msg, ok := messages[e.Field()+"."+e.Tag()]; ok {
		return msg
	}
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}

func (v *Validator) today() time.Time {
	now := v.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// parseDueDate returns the calendar day of a due date at midnight in the clock's location.
func (v *Validator) parseDueDate(s string) (time.Time, error) {
	loc := v.now().Location()
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		ts, tsErr := time.Parse(time.RFC3339, s)
		if tsErr != nil {
			return time.Time{}, fmt.Errorf("parsing due date %q: %w", s, err)
		}
		t = ts.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

// ISBN shapes. RE2 has no look-ahead, so each alternative is its own pattern.
var (
	isbnPrefix    = regexp.MustCompile(`^(?:ISBN(?:-1[03])?:? )?`)
	isbnShape     = regexp.MustCompile(`^(?:97[89][- ]?)?[0-9]{1,5}[- ]?[0-9]+[- ]?[0-9]+[- ]?[0-9X]$`)
	isbn10Plain   = regexp.MustCompile(`^[0-9X]{10}$`)
	isbn10Grouped = regexp.MustCompile(`^[- 0-9X]{13}$`)
	isbn13Plain   = regexp.MustCompile(`^97[89][0-9]{10}$`)
	isbn13Grouped = regexp.MustCompile(`^[- 0-9]{17}$`)
	threeGroups   = regexp.MustCompile(`^(?:[0-9]+[- ]){3}`)
	fourGroups    = regexp.MustCompile(`^(?:[0-9]+[- ]){4}`)
)

// ValidISBN reports whether s looks like an ISBN-10 or ISBN-13, optionally prefixed with "ISBN".
func ValidISBN(s string) bool {
	body := s[len(isbnPrefix.FindString(s)):]
	lengthOK := isbn10Plain.MatchString(body) ||
		(threeGroups.MatchString(body) && isbn10Grouped.MatchString(body)) ||
		isbn13Plain.MatchString(body) ||
		(fourGroups.MatchString(body) && isbn13Grouped.MatchString(body))
	return lengthOK && isbnShape.MatchString(body)
}
