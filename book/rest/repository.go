package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/marcelsud/library-catalog/book"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultRequestTimeout bounds a single attempt.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultMaxRetries is the number of extra attempts for reads.
	DefaultMaxRetries = 3
	// DefaultRateLimit is the number of requests per second sent to the backend.
	DefaultRateLimit = 20

	maxBodySize = 4 << 20
)

/* Repository implements book.Repository against the REST backend.
 * Reads are idempotent and retried with exponential backoff on network errors,
 * 429 and 5xx. Writes get exactly one attempt: a write that timed out may have
 * been applied, retrying it could borrow twice.
 */
type Repository struct {
	baseURL         string
	httpClient      *http.Client
	limiter         *rate.Limiter
	timeout         time.Duration
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	log             zerolog.Logger
}

// Option customises a Repository.
type Option func(*Repository)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Repository) {
		r.httpClient = c
	}
}

// WithRequestTimeout bounds every attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Repository) {
		r.timeout = d
	}
}

// WithMaxRetries sets how many times a failed read is retried.
func WithMaxRetries(n int) Option {
	return func(r *Repository) {
		if n < 0 {
			n = 0
		}
		r.maxRetries = uint64(n)
	}
}

// WithBackoff sets the first and the largest wait between read attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(r *Repository) {
		r.initialInterval = initial
		r.maxInterval = max
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables the limit.
func WithRateLimit(rps float64) Option {
	return func(r *Repository) {
		if rps <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithLogger sets the logger used for request logs.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Repository) {
		r.log = l
	}
}

// NewRepository creates a client for the backend served at baseURL, e.g. http://localhost:5000/api.
func NewRepository(baseURL string, opts ...Option) *Repository {
	r := &Repository{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{},
		limiter:         rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		timeout:         DefaultRequestTimeout,
		maxRetries:      DefaultMaxRetries,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     2 * time.Second,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns every book of the catalog
func (r *Repository) List(ctx context.Context) ([]book.Book, error) {
	var dtos []bookDTO
	if err := r.read(ctx, "/books", &dtos); err != nil {
		return nil, err
	}
	books := make([]book.Book, 0, len(dtos))
	for _, d := range dtos {
		books = append(books, d.toBook())
	}
	return books, nil
}

// Get returns a book by id
func (r *Repository) Get(ctx context.Context, id string) (book.Book, error) {
	var d bookDTO
	if err := r.read(ctx, "/books/"+url.PathEscape(id), &d); err != nil {
		return book.Book{}, err
	}
	return d.toBook(), nil
}

// Summary returns the borrow aggregate computed by the backend
func (r *Repository) Summary(ctx context.Context) ([]book.SummaryItem, error) {
	var dtos []summaryDTO
	if err := r.read(ctx, "/borrow", &dtos); err != nil {
		return nil, err
	}
	items := make([]book.SummaryItem, 0, len(dtos))
	for _, d := range dtos {
		items = append(items, book.SummaryItem{
			Book:          book.SummaryBook{Title: d.Book.Title, ISBN: d.Book.ISBN},
			TotalQuantity: d.TotalQuantity,
		})
	}
	return items, nil
}

// Create stores a new book and returns it with the id assigned by the backend
func (r *Repository) Create(ctx context.Context, b book.Book) (book.Book, error) {
	var d bookDTO
	if err := r.write(ctx, http.MethodPost, "/books", newBookDTO(b), &d); err != nil {
		return book.Book{}, err
	}
	return d.toBook(), nil
}

// Update replaces a book
func (r *Repository) Update(ctx context.Context, b book.Book) (book.Book, error) {
	var d bookDTO
	if err := r.write(ctx, http.MethodPut, "/books/"+url.PathEscape(b.ID), newBookDTO(b), &d); err != nil {
		return book.Book{}, err
	}
	return d.toBook(), nil
}

// Delete removes a book
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.write(ctx, http.MethodDelete, "/books/"+url.PathEscape(id), nil, nil)
}

// Borrow records a loan
func (r *Repository) Borrow(ctx context.Context, rec book.BorrowRecord) error {
	return r.write(ctx, http.MethodPost, "/borrow", newBorrowDTO(rec), nil)
}

// Close releases idle connections
func (r *Repository) Close(ctx context.Context) error {
	r.httpClient.CloseIdleConnections()
	return nil
}

func (r *Repository) read(ctx context.Context, path string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		err := r.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn().Err(err).Str("path", path).Dur("wait", wait).Msg("retrying backend read")
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx), notify)
}

func (r *Repository) write(ctx context.Context, method, path string, in, out any) error {
	return r.do(ctx, method, path, in, out)
}

// do runs a single attempt and decodes the envelope into out or into a typed error.
func (r *Repository) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return &book.NetworkError{Op: op, Err: err}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &book.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &book.NetworkError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}
	r.log.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &book.UnknownError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding %s response: %v", op, err)}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &book.UnknownError{Status: resp.StatusCode, Message: fmt.Sprintf("%s response has no data", op)}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &book.UnknownError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding %s data: %v", op, err)}
	}
	return nil
}

func retryable(err error) bool {
	var networkErr *book.NetworkError
	if errors.As(err, &networkErr) {
		return true
	}
	var unknownErr *book.UnknownError
	if errors.As(err, &unknownErr) {
		return unknownErr.Status == http.StatusTooManyRequests || unknownErr.Status >= 500
	}
	return false
}
