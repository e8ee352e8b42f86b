package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shelfnotes/storygraph-import/internal/api/googlebooks"
	"github.com/shelfnotes/storygraph-import/internal/logger"
)

func TestResolveAcceptsThirteenDigits(t *testing.T) {
	books := &fakeSearcher{}
	r := NewResolver(books, logger.Nop())

	for _, candidate := range []string{"9780441172719", "0000000000000", "1234567890123"} {
		isbn, ok := r.Resolve(context.Background(), "Dune", candidate)
		assert.True(t, ok)
		assert.Equal(t, candidate, isbn)
	}
	assert.Empty(t, books.titleCalls, "valid candidates must not trigger a lookup")
}

func TestResolveFallsBackToTitleSearch(t *testing.T) {
	candidates := []string{
		"",
		"044117271X",
		"978044117271",
		"97804411727190",
		"978-0441172719",
		"978044117271X",
		" 9780441172719",
		"９７８０４４１１７２７１９",
	}

	for _, candidate := range candidates {
		t.Run(candidate, func(t *testing.T) {
			books := &fakeSearcher{byTitle: map[string]*googlebooks.VolumesResponse{
				"Dune": volumes(volumeWithISBN("", googlebooks.IndustryIdentifier{Type: "ISBN_13", Identifier: "9780593099322"})),
			}}
			r := NewResolver(books, logger.Nop())

			isbn, ok := r.Resolve(context.Background(), "Dune", candidate)
			assert.True(t, ok)
			assert.Equal(t, "9780593099322", isbn)
			assert.Equal(t, []string{"Dune"}, books.titleCalls)
		})
	}
}

func TestResolveScansAllItems(t *testing.T) {
	books := &fakeSearcher{byTitle: map[string]*googlebooks.VolumesResponse{
		"Emma": volumes(
			volumeWithISBN("", googlebooks.IndustryIdentifier{Type: "ISBN_10", Identifier: "0141439580"}),
			volumeWithISBN("", googlebooks.IndustryIdentifier{Type: "OTHER", Identifier: "PSU:000"}),
			volumeWithISBN("",
				googlebooks.IndustryIdentifier{Type: "ISBN_10", Identifier: "1503261964"},
				googlebooks.IndustryIdentifier{Type: "ISBN_13", Identifier: "9781503261969"},
			),
		),
	}}
	r := NewResolver(books, logger.Nop())

	isbn, ok := r.Resolve(context.Background(), "Emma", "n/a")
	assert.True(t, ok)
	assert.Equal(t, "9781503261969", isbn)
}

func TestResolveNotFound(t *testing.T) {
	tests := []struct {
		name  string
		books *fakeSearcher
		title string
		calls int
	}{
		{name: "no items", books: &fakeSearcher{}, title: "Unknown", calls: 1},
		{name: "lookup error", books: &fakeSearcher{titleErr: errors.New("boom")}, title: "Unknown", calls: 1},
		{
			name: "only isbn 10",
			books: &fakeSearcher{byTitle: map[string]*googlebooks.VolumesResponse{
				"Old": volumes(volumeWithISBN("", googlebooks.IndustryIdentifier{Type: "ISBN_10", Identifier: "0141439580"})),
			}},
			title: "Old",
			calls: 1,
		},
		{name: "empty title", books: &fakeSearcher{}, title: "", calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.books, logger.Nop())
			isbn, ok := r.Resolve(context.Background(), tt.title, "bad")
			assert.False(t, ok)
			assert.Empty(t, isbn)
			assert.Len(t, tt.books.titleCalls, tt.calls)
		})
	}
}
