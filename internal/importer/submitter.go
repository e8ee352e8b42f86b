package importer

import (
	"context"
	"fmt"

	"github.com/shelfnotes/storygraph-import/internal/logger"
	"github.com/shelfnotes/storygraph-import/internal/models"
	"github.com/shelfnotes/storygraph-import/internal/util"
)

// Submission stages
const (
	StageCreateBook     = "create_book"
	StageAttachUserBook = "attach_user_book"
)

// SubmitError reports which backend write failed. BookID is set when the
// book was created but never attached to its owner.
type SubmitError struct {
	Stage  string
	BookID models.BookID
	Err    error
}

func (e *SubmitError) Error() string {
	if e.BookID != "" {
		return fmt.Sprintf("%s failed for book %s: %v", e.Stage, e.BookID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Orphaned reports whether a created book was left without a user-book
func (e *SubmitError) Orphaned() bool {
	return e.Stage == StageAttachUserBook && e.BookID != ""
}

// Submitter performs the book then user-book writes for one row
type Submitter struct {
	writer  BookWriter
	backoff util.Backoff
	log     *logger.Logger
}

// NewSubmitter creates a submitter. Only the user-book write is retried.
func NewSubmitter(writer BookWriter, backoff util.Backoff, log *logger.Logger) *Submitter {
	if log == nil {
		log = logger.Get()
	}
	return &Submitter{writer: writer, backoff: backoff, log: log}
}

// Submit creates the book and attaches it to the owner
func (s *Submitter) Submit(ctx context.Context, ownerID int, sub models.Submission) (models.BookID, error) {
	book, err := s.writer.CreateBook(ctx, sub.Book)
	if err != nil {
		return "", &SubmitError{Stage: StageCreateBook, Err: err}
	}

	scoped(ctx, s.log).Debug("Created book", map[string]interface{}{
		"title":   sub.Book.Title,
		"book_id": book.ID.String(),
	})

	err = s.backoff.Retry(ctx, func(ctx context.Context) error {
		return s.writer.AttachUserBook(ctx, ownerID, book.ID, sub.UserBook)
	}, func(attempt int, err error) {
		scoped(ctx, s.log).Debug("User-book attach attempt failed", map[string]interface{}{
			"book_id":  book.ID.String(),
			"user_id":  ownerID,
			"attempt":  attempt,
			"attempts": s.backoff.Attempts,
			"error":    err.Error(),
		})
	})
	if err != nil {
		return book.ID, &SubmitError{Stage: StageAttachUserBook, BookID: book.ID, Err: err}
	}
	return book.ID, nil
}
