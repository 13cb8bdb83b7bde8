package book

import "fmt"

/* Genre is the fixed set of catalog genres accepted by the backend.
 * A typed enum lets the compiler catch misuse instead of comparing strings.
 */
type Genre int

const (
	Fiction Genre = iota + 1
	NonFiction
	Science
	History
	Biography
	Fantasy
)

// Genres lists every valid genre in display order.
var Genres = []Genre{Fiction, NonFiction, Science, History, Biography, Fantasy}

func (g Genre) String() string {
	switch g {
	case Fiction:
		return "FICTION"
	case NonFiction:
		return "NON_FICTION"
	case Science:
		return "SCIENCE"
	case History:
		return "HISTORY"
	case Biography:
		return "BIOGRAPHY"
	case Fantasy:
		return "FANTASY"
	}
	return "UNKNOWN"
}

// ParseGenre converts the wire representation into a Genre
func ParseGenre(s string) (Genre, error) {
	for _, g := range Genres {
		if g.String() == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("invalid genre: %q", s)
}

// Validate checks if the genre is one of the known values
func (g Genre) Validate() error {
	if g < Fiction || g > Fantasy {
		return fmt.Errorf("invalid genre: %d", g)
	}
	return nil
}

// MarshalText encodes the genre the way the backend expects it
func (g Genre) MarshalText() ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return []byte(g.String()), nil
}

// UnmarshalText decodes a genre received from the backend or a catalog file
func (g *Genre) UnmarshalText(text []byte) error {
	parsed, err := ParseGenre(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
