package book

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

/* Error taxonomy of the catalog.
 * Every error that can reach a form is one of these types; they are decoded at the
 * boundary (validation or the REST client) and matched with errors.As afterwards.
 */

// FieldErrors maps a form field name to a user facing message.
type FieldErrors map[string]string

// Fields returns the sorted field names.
func (f FieldErrors) Fields() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f FieldErrors) String() string {
	parts := make([]string, 0, len(f))
	for _, name := range f.Fields() {
		parts = append(parts, name+": "+f[name])
	}
	return strings.Join(parts, "; ")
}

// ValidationError is produced locally before any network call.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Fields)
}

// ConflictError reports a uniqueness violation on a single field, e.g. a duplicate ISBN.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Field, e.Message)
}

// BackendFieldError carries the per field messages returned by the backend.
type BackendFieldError struct {
	Message string
	Fields  FieldErrors
}

func (e *BackendFieldError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected fields: %s", e.Fields)
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Fields)
}

// NetworkError wraps connectivity failures and timeouts.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UnknownError is the fallback for any backend answer we cannot classify.
type UnknownError struct {
	Status  int
	Message string
}

func (e *UnknownError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("unexpected response (status %d): %s", e.Status, e.Message)
}

// ErrNotFound is returned when the backend has no record for an id.
var ErrNotFound = errors.New("not found")

const (
	msgNetwork = "Unable to reach the library service, please try again"
	msgUnknown = "An unexpected error occurred, please try again"
)

// FormErrors is the form facing view of an error: per field messages plus a banner.
type FormErrors struct {
	Fields  FieldErrors
	General string
}

// Empty reports whether there is nothing to show.
func (f FormErrors) Empty() bool {
	return len(f.Fields) == 0 && f.General == ""
}

/* ResolveFormErrors maps any error onto the fields of the form that submitted it.
 * Field errors for names the form does not render go to the banner instead,
 * everything that is not field scoped becomes a single general message.
 */
func ResolveFormErrors(err error, formFields ...string) FormErrors {
	out := FormErrors{Fields: FieldErrors{}}
	if err == nil {
		return out
	}
	known := make(map[string]bool, len(formFields))
	for _, f := range formFields {
		known[f] = true
	}
	assign := func(fields FieldErrors, fallback string) {
		var banner []string
		for _, name := range fields.Fields() {
			if known[name] {
				out.Fields[name] = fields[name]
				continue
			}
			banner = append(banner, fields[name])
		}
		if len(banner) > 0 {
			out.General = strings.Join(banner, "; ")
		} else if len(out.Fields) == 0 {
			out.General = fallback
		}
	}

	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		fieldErr      *BackendFieldError
		networkErr    *NetworkError
		unknownErr    *UnknownError
	)
	switch {
	case errors.As(err, &validationErr):
		assign(validationErr.Fields, msgUnknown)
	case errors.As(err, &conflictErr):
		assign(FieldErrors{conflictErr.Field: conflictErr.Message}, conflictErr.Message)
	case errors.As(err, &fieldErr):
		assign(fieldErr.Fields, fieldErr.Message)
	case errors.As(err, &networkErr):
		out.General = msgNetwork
	case errors.As(err, &unknownErr):
		out.General = unknownErr.Message
		if out.General == "" {
			out.General = msgUnknown
		}
	case errors.Is(err, ErrNotFound):
		out.General = "Book not found"
	default:
		out.General = msgUnknown
	}
	return out
}
