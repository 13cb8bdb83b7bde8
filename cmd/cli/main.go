package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/marcelsud/library-catalog/book"
	"github.com/marcelsud/library-catalog/book/rest"
	"github.com/marcelsud/library-catalog/cache"
	"github.com/marcelsud/library-catalog/catalog"
	"github.com/marcelsud/library-catalog/config"
	"github.com/rs/zerolog"
)

/* cli - imports a catalog file into the backend and prints the result
 * Usage: go run cmd/cli/main.go [catalog.yaml]
 * Books whose ISBN already exists are skipped.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	catalogFile := cfg.CatalogFile
	if len(os.Args) > 1 {
		catalogFile = os.Args[1]
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	v := book.NewValidator()
	loader := catalog.NewLoader(v)
	if err := loader.Load(catalogFile); err != nil {
		fmt.Println(err)
		return
	}

	ctx := context.Background()
	repo := rest.NewRepository(cfg.BackendURL,
		rest.WithRequestTimeout(cfg.RequestTimeout()),
		rest.WithMaxRetries(cfg.QueryMaxRetries),
		rest.WithRateLimit(cfg.RateLimitRPS),
		rest.WithLogger(logger),
	)
	defer repo.Close(ctx)
	client := cache.New(cache.NewStore(), cache.WithFetchTimeout(cfg.FetchTimeout()), cache.WithLogger(logger))
	defer func() {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = client.Close(ctx)
	}()
	s := book.NewService(repo, client, v, book.WithServiceLogger(logger))

	created, skipped := 0, 0
	for _, seed := range loader.List() {
		_, err := s.Create(ctx, seed.Input)
		var conflict *book.ConflictError
		switch {
		case err == nil:
			created++
		case errors.As(err, &conflict):
			skipped++
			logger.Info().Str("isbn", seed.Book.ISBN).Msg("already in the catalog, skipped")
		default:
			fmt.Printf("importing %q: %v\n", seed.Book.Title, err)
			return
		}
	}
	fmt.Printf("Imported %d book(s), skipped %d\n\n", created, skipped)

	books, err := s.List(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("Catalog (%d book(s)):\n", len(books))
	for _, b := range books {
		status := "available"
		if !b.CanBorrow() {
			status = "unavailable"
		}
		fmt.Printf("  %-24s %-40s %-20s %-12s copies=%d %s\n", b.ID, b.Title, b.Author, b.Genre, b.Copies, status)
	}

	summary, err := s.Summary(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("\nBorrowed (%d total):\n", book.TotalBorrowed(summary))
	for _, item := range summary {
		fmt.Printf("  %-40s %-20s %d\n", item.Book.Title, item.Book.ISBN, item.TotalQuantity)
	}
}
