package importer

import (
	"context"

	"github.com/shelfnotes/storygraph-import/internal/logger"
)

// Resolver produces a 13 digit ISBN for a row
type Resolver struct {
	books VolumeSearcher
	log   *logger.Logger
}

// NewResolver creates a resolver backed by a volume search
func NewResolver(books VolumeSearcher, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Get()
	}
	return &Resolver{books: books, log: log}
}

// Resolve returns candidate unchanged when it is exactly 13 digits.
// Otherwise the first ISBN_13 of a title search is returned. Lookup
// failures are reported as not found.
func (r *Resolver) Resolve(ctx context.Context, title, candidate string) (string, bool) {
	if isISBN13(candidate) {
		return candidate, true
	}
	resp, err := r.books.SearchByTitle(ctx, title)
	if err != nil {
		scoped(ctx, r.log).Debug("ISBN lookup by title failed", map[string]interface{}{
			"title": title,
			"error": err.Error(),
		})
		return "", false
	}

	for _, item := range resp.Items {
		if isbn, ok := item.ISBN13(); ok {
			scoped(ctx, r.log).Debug("Resolved ISBN by title", map[string]interface{}{
				"title":     title,
				"candidate": candidate,
				"isbn":      isbn,
			})
			return isbn, true
		}
	}

	scoped(ctx, r.log).Debug("No ISBN_13 found for title", map[string]interface{}{
		"title": title,
		"items": len(resp.Items),
	})
	return "", false
}

func isISBN13(s string) bool {
	if len(s) != 13 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
