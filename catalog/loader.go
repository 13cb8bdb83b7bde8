package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/marcelsud/library-catalog/book"
	"gopkg.in/yaml.v3"
)

/* Loader manages seed books from catalog.yaml
 * Every entry is validated with the book form rules; lookups are by ISBN.
 */

// Config represents the structure of catalog.yaml
type Config struct {
	Books []book.BookInput `yaml:"books"`
}

// Seed is one validated entry of the catalog file
type Seed struct {
	Input book.BookInput
	Book  book.Book
}

// Loader holds the loaded seeds
type Loader struct {
	validator *book.Validator
	seeds     map[string]*Seed
	order     []string
}

// NewLoader creates a new catalog loader
func NewLoader(v *book.Validator) *Loader {
	if v == nil {
		v = book.NewValidator()
	}
	return &Loader{
		validator: v,
		seeds:     make(map[string]*Seed),
	}
}

// Load reads and parses the catalog file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading catalog file: %w", err)
	}
	return l.Parse(data)
}

// Parse validates a catalog document. Nothing is kept when an entry is invalid.
func (l *Loader) Parse(data []byte) error {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing catalog YAML: %w", err)
	}

	seeds := make(map[string]*Seed, len(config.Books))
	order := make([]string, 0, len(config.Books))
	for i, in := range config.Books {
		b, err := l.validator.ValidateBook(in)
		if err != nil {
			return fmt.Errorf("validating book %d (%q): %w", i+1, in.Title, err)
		}
		key := normalizeISBN(b.ISBN)
		if prev, exists := seeds[key]; exists {
			return fmt.Errorf("validating book %d (%q): duplicate isbn %s, already used by %q", i+1, b.Title, b.ISBN, prev.Book.Title)
		}
		seeds[key] = &Seed{Input: in, Book: b}
		order = append(order, key)
	}

	l.seeds = seeds
	l.order = order
	return nil
}

// Get retrieves a seed by its ISBN. Hyphens and spaces are ignored.
func (l *Loader) Get(isbn string) (*Seed, error) {
	seed, exists := l.seeds[normalizeISBN(isbn)]
	if !exists {
		return nil, fmt.Errorf("book not found: %s", isbn)
	}
	return seed, nil
}

// List returns all loaded seeds in file order
func (l *Loader) List() []*Seed {
	seeds := make([]*Seed, 0, len(l.order))
	for _, key := range l.order {
		seeds = append(seeds, l.seeds[key])
	}
	return seeds
}

// Exists checks if a book with the ISBN was loaded
func (l *Loader) Exists(isbn string) bool {
	_, exists := l.seeds[normalizeISBN(isbn)]
	return exists
}

var isbnPrefix = regexp.MustCompile(`^ISBN(?:-1[03])?:? `)

// normalizeISBN drops the optional prefix and the group separators.
func normalizeISBN(isbn string) string {
	isbn = strings.TrimSpace(isbn)
	isbn = isbn[len(isbnPrefix.FindString(isbn)):]
	return strings.NewReplacer("-", "", " ", "").Replace(isbn)
}
