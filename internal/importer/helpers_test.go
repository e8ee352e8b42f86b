package importer

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shelfnotes/storygraph-import/internal/api/googlebooks"
	"github.com/shelfnotes/storygraph-import/internal/models"
)

// fakeSearcher answers volume searches from fixed tables and records calls
type fakeSearcher struct {
	byTitle    map[string]*googlebooks.VolumesResponse
	byISBN     map[string]*googlebooks.VolumesResponse
	titleErr   error
	isbnErr    error
	titleCalls []string
	isbnCalls  []string
}

func (f *fakeSearcher) SearchByTitle(ctx context.Context, title string) (*googlebooks.VolumesResponse, error) {
	f.titleCalls = append(f.titleCalls, title)
	if f.titleErr != nil {
		return nil, f.titleErr
	}
	if resp, ok := f.byTitle[title]; ok {
		return resp, nil
	}
	return &googlebooks.VolumesResponse{}, nil
}

func (f *fakeSearcher) SearchByISBN(ctx context.Context, isbn string) (*googlebooks.VolumesResponse, error) {
	f.isbnCalls = append(f.isbnCalls, isbn)
	if f.isbnErr != nil {
		return nil, f.isbnErr
	}
	if resp, ok := f.byISBN[isbn]; ok {
		return resp, nil
	}
	return &googlebooks.VolumesResponse{}, nil
}

func volumes(vols ...googlebooks.Volume) *googlebooks.VolumesResponse {
	return &googlebooks.VolumesResponse{TotalItems: len(vols), Items: vols}
}

func volumeWithISBN(selfLink string, ids ...googlebooks.IndustryIdentifier) googlebooks.Volume {
	return googlebooks.Volume{
		SelfLink:   selfLink,
		VolumeInfo: googlebooks.VolumeInfo{IndustryIdentifiers: ids},
	}
}

// MockBookWriter is a testify mock of BookWriter
type MockBookWriter struct {
	mock.Mock
}

func (m *MockBookWriter) CreateBook(ctx context.Context, book models.BookPayload) (*models.BookRecord, error) {
	args := m.Called(ctx, book)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.BookRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBookWriter) AttachUserBook(ctx context.Context, userID int, bookID models.BookID, userBook models.UserBookPayload) error {
	args := m.Called(ctx, userID, bookID, userBook)
	return args.Error(0)
}
