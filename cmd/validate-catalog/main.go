package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/library-catalog/book"
	"github.com/marcelsud/library-catalog/catalog"
)

/* validate-catalog - Standalone CLI tool to validate catalog.yaml
 * Usage: go run cmd/validate-catalog/main.go [catalog.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	// Get catalog file path from args or use default
	catalogFile := "catalog.yaml"
	if len(os.Args) > 1 {
		catalogFile = os.Args[1]
	}

	fmt.Printf("Validating catalog file: %s\n", catalogFile)
	fmt.Println(strings.Repeat("-", 50))

	// Offline: the same rules the book form uses, no backend call
	loader := catalog.NewLoader(book.NewValidator())
	if err := loader.Load(catalogFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	seeds := loader.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d book(s):\n", len(seeds))

	for i, seed := range seeds {
		b := seed.Book
		fmt.Printf("\n%d. Book: %s\n", i+1, b.Title)
		fmt.Printf("   Author:    %s\n", b.Author)
		fmt.Printf("   Genre:     %s\n", b.Genre)
		fmt.Printf("   ISBN:      %s\n", b.ISBN)
		fmt.Printf("   Copies:    %d\n", b.Copies)
		fmt.Printf("   Available: %t\n", b.Available)
		if b.Description != "" {
			fmt.Printf("   Description: %s\n", b.Description)
		}
	}

	fmt.Printf("\n✓ All books are valid!\n")
	os.Exit(0)
}
