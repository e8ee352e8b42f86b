package importer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/shelfnotes/storygraph-import/internal/api/googlebooks"
	"github.com/shelfnotes/storygraph-import/internal/database"
	"github.com/shelfnotes/storygraph-import/internal/models"
)

// ErrInvalidObjectKey is returned when no owner id can be derived from an object key
var ErrInvalidObjectKey = errors.New("invalid object key")

// Status is the outcome of one row
type Status string

const (
	StatusImported Status = "imported"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// FileRef points to one uploaded CSV file
type FileRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (f FileRef) String() string {
	if f.Bucket == "" {
		return f.Key
	}
	return f.Bucket + "/" + f.Key
}

// RowResult describes what happened to one CSV row
type RowResult struct {
	Row      int
	Title    string
	ISBN     string
	Status   Status
	Reason   string
	BookID   string
	Orphaned bool
}

// FileResult collects the rows of one file. Err is set when the file
// could not be processed at all.
type FileResult struct {
	File     FileRef
	OwnerID  int
	Rows     []RowResult
	Imported int
	Skipped  int
	Failed   int
	Err      error
}

func (r *FileResult) add(row RowResult) {
	r.Rows = append(r.Rows, row)
	switch row.Status {
	case StatusImported:
		r.Imported++
	case StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Summary aggregates every file of one invocation
type Summary struct {
	RunID       string
	Files       []FileResult
	Imported    int
	Skipped     int
	Failed      int
	FailedFiles int
}

func (s *Summary) add(file FileResult) {
	s.Files = append(s.Files, file)
	s.Imported += file.Imported
	s.Skipped += file.Skipped
	s.Failed += file.Failed
	if file.Err != nil {
		s.FailedFiles++
	}
}

// VolumeSearcher is the subset of the Google Books client used for enrichment
type VolumeSearcher interface {
	SearchByTitle(ctx context.Context, title string) (*googlebooks.VolumesResponse, error)
	SearchByISBN(ctx context.Context, isbn string) (*googlebooks.VolumesResponse, error)
}

// BookWriter is the subset of the backend client used for submission
type BookWriter interface {
	CreateBook(ctx context.Context, book models.BookPayload) (*models.BookRecord, error)
	AttachUserBook(ctx context.Context, userID int, bookID models.BookID, userBook models.UserBookPayload) error
}

// Journal persists run and row outcomes
type Journal interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	RecordOutcome(ctx context.Context, outcome *database.RowOutcome) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, totals database.RunTotals) error
}

// ParseOwnerID derives the owning user id from an object key such as
// "uploads/42_part3.csv". Without a "_part" marker the whole stem is used.
func ParseOwnerID(key string) (int, error) {
	base := path.Base(strings.TrimSpace(key))
	if base == "." || base == "/" || base == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidObjectKey, key)
	}

	stem := base
	if idx := strings.Index(stem, "_part"); idx >= 0 {
		stem = stem[:idx]
	} else if strings.HasSuffix(strings.ToLower(stem), ".csv") {
		stem = stem[:len(stem)-len(".csv")]
	}

	id, err := strconv.Atoi(stem)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q has no numeric owner prefix", ErrInvalidObjectKey, key)
	}
	return id, nil
}
