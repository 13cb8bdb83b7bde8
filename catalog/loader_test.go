package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcelsud/library-catalog/book"
	"github.com/marcelsud/library-catalog/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_Load(t *testing.T) {
	t.Run("success - valid catalog file", func(t *testing.T) {
		path := writeCatalog(t, `
books:
  - title: "Dune"
    author: "Frank Herbert"
    genre: "FICTION"
    isbn: "978-0-441-17271-9"
    copies: 4
    description: "Desert planet"
  - title: "A Brief History of Time"
    author: "Stephen Hawking"
    genre: "SCIENCE"
    isbn: "0-553-38016-8"
    copies: 0
    available: true
`)
		loader := catalog.NewLoader(book.NewValidator())
		require.NoError(t, loader.Load(path))

		seeds := loader.List()
		require.Len(t, seeds, 2)
		assert.Equal(t, "Dune", seeds[0].Book.Title)
		assert.Equal(t, "A Brief History of Time", seeds[1].Book.Title)

		seed, err := loader.Get("9780441172719")
		require.NoError(t, err)
		assert.Equal(t, book.Fiction, seed.Book.Genre)
		assert.Equal(t, 4, seed.Book.Copies)
		assert.True(t, seed.Book.Available)

		// zero copies are never available
		seed, err = loader.Get("0-553-38016-8")
		require.NoError(t, err)
		assert.False(t, seed.Book.Available)
	})

	t.Run("error - file not found", func(t *testing.T) {
		loader := catalog.NewLoader(nil)
		err := loader.Load("nonexistent.yaml")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading catalog file")
	})

	t.Run("error - invalid YAML", func(t *testing.T) {
		loader := catalog.NewLoader(nil)
		err := loader.Load(writeCatalog(t, `invalid yaml content: [[[`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing catalog YAML")
	})

	t.Run("error - invalid book", func(t *testing.T) {
		loader := catalog.NewLoader(nil)
		err := loader.Load(writeCatalog(t, `
books:
  - title: "Dune"
    author: ""
    genre: "Poetry"
    isbn: "978-0-441-17271-9"
    copies: 1
`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), `book 1 ("Dune")`)
		var verr *book.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, []string{"author", "genre"}, verr.Fields.Fields())
	})

	t.Run("error - duplicate isbn", func(t *testing.T) {
		loader := catalog.NewLoader(nil)
		err := loader.Load(writeCatalog(t, `
books:
  - title: "Dune"
    author: "Frank Herbert"
    genre: "FICTION"
    isbn: "978-0-441-17271-9"
    copies: 1
  - title: "Dune (reprint)"
    author: "Frank Herbert"
    genre: "FICTION"
    isbn: "ISBN 9780441172719"
    copies: 2
`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate isbn")
		assert.Empty(t, loader.List())
	})
}

func TestLoader_Lookup(t *testing.T) {
	loader := catalog.NewLoader(nil)
	require.NoError(t, loader.Parse([]byte(`
books:
  - title: "Dune"
    author: "Frank Herbert"
    genre: "FICTION"
    isbn: "978-0-441-17271-9"
    copies: 1
`)))

	assert.True(t, loader.Exists("978-0-441-17271-9"))
	assert.True(t, loader.Exists("ISBN-13: 978 0 441 17271 9"))
	assert.False(t, loader.Exists("0-553-38016-8"))

	_, err := loader.Get("0-553-38016-8")
	assert.ErrorContains(t, err, "book not found")
}
