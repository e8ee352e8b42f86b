package importer

import (
	"context"

	"github.com/shelfnotes/storygraph-import/internal/api/googlebooks"
	"github.com/shelfnotes/storygraph-import/internal/logger"
)

// Linker finds a reference link for a book
type Linker struct {
	books VolumeSearcher
	log   *logger.Logger
}

// NewLinker creates a linker backed by a volume search
func NewLinker(books VolumeSearcher, log *logger.Logger) *Linker {
	if log == nil {
		log = logger.Get()
	}
	return &Linker{books: books, log: log}
}

// Link returns the selfLink of the top ISBN match, falling back to the
// top title match. An empty isbn skips the first lookup.
func (l *Linker) Link(ctx context.Context, isbn, title string) (string, bool) {
	if isbn != "" {
		if link, ok := l.firstLink(ctx, "isbn", isbn, l.books.SearchByISBN); ok {
			return link, true
		}
	}
	if title == "" {
		return "", false
	}
	return l.firstLink(ctx, "title", title, l.books.SearchByTitle)
}

func (l *Linker) firstLink(
	ctx context.Context,
	stage, query string,
	search func(context.Context, string) (*googlebooks.VolumesResponse, error),
) (string, bool) {
	resp, err := search(ctx, query)
	if err != nil {
		scoped(ctx, l.log).Debug("Reference lookup failed", map[string]interface{}{
			"stage": stage,
			"query": query,
			"error": err.Error(),
		})
		return "", false
	}
	if len(resp.Items) == 0 || resp.Items[0].SelfLink == "" {
		scoped(ctx, l.log).Debug("No reference link in lookup result", map[string]interface{}{
			"stage": stage,
			"query": query,
		})
		return "", false
	}
	return resp.Items[0].SelfLink, true
}
