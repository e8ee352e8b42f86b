package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/shelfnotes/storygraph-import/internal/config"
	"github.com/shelfnotes/storygraph-import/internal/database"
	"github.com/shelfnotes/storygraph-import/internal/logger"
	"github.com/shelfnotes/storygraph-import/internal/storage"
	"github.com/shelfnotes/storygraph-import/internal/util"
)

// Service runs the import pipeline over uploaded CSV files
type Service struct {
	storage    storage.Downloader
	resolver   *Resolver
	linker     *Linker
	normalizer *Normalizer
	submitter  *Submitter
	journal    Journal
	log        *logger.Logger
	newRunID   func() string
	keepFiles  bool
}

// Option customises a Service
type Option func(*serviceOptions)

type serviceOptions struct {
	journal   Journal
	sleep     util.Sleeper
	log       *logger.Logger
	newRunID  func() string
	keepFiles bool
}

// WithJournal records every run and row outcome
func WithJournal(j Journal) Option {
	return func(o *serviceOptions) { o.journal = j }
}

// WithSleeper replaces the pause between user-book attempts
func WithSleeper(s util.Sleeper) Option {
	return func(o *serviceOptions) { o.sleep = s }
}

// WithLogger sets the service logger
func WithLogger(l *logger.Logger) Option {
	return func(o *serviceOptions) { o.log = l }
}

// WithRunIDs replaces the run id generator
func WithRunIDs(fn func() string) Option {
	return func(o *serviceOptions) { o.newRunID = fn }
}

// WithKeepFiles leaves downloaded files in place after processing
func WithKeepFiles(keep bool) Option {
	return func(o *serviceOptions) { o.keepFiles = keep }
}

// NewService wires the pipeline stages from configuration
func NewService(dl storage.Downloader, books VolumeSearcher, writer BookWriter, cfg *config.Config, opts ...Option) *Service {
	o := serviceOptions{
		log:      logger.Get(),
		sleep:    util.Sleep,
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	backoff := util.Backoff{
		Attempts:  cfg.App.RetryAttempts,
		BaseDelay: cfg.App.RetryBaseDelay,
		Sleep:     o.sleep,
	}

	return &Service{
		storage:    dl,
		resolver:   NewResolver(books, o.log),
		linker:     NewLinker(books, o.log),
		normalizer: NewNormalizer(cfg.App.SkipStatuses, cfg.App.DefaultNotes),
		submitter:  NewSubmitter(writer, backoff, o.log),
		journal:    o.journal,
		log:        o.log,
		newRunID:   o.newRunID,
		keepFiles:  o.keepFiles,
	}
}

// Run processes files in order, rows in file order. Failures are isolated
// to their row or file and never abort the run.
func (s *Service) Run(ctx context.Context, files []FileRef) Summary {
	summary := Summary{RunID: s.newRunID()}
	log := s.log.WithFields(map[string]interface{}{"run_id": summary.RunID})
	ctx = logger.NewContext(ctx, log)

	if s.journal != nil {
		if err := s.journal.StartRun(ctx, summary.RunID, time.Now()); err != nil {
			log.Warn("Failed to record import run", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	for _, file := range files {
		result := s.processFile(ctx, summary.RunID, file)
		summary.add(result)

		fields := map[string]interface{}{
			"file":     file.String(),
			"owner_id": result.OwnerID,
			"imported": result.Imported,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
		}
		if result.Err != nil {
			fields["error"] = result.Err.Error()
			log.Warn("Failed to process file", fields)
			continue
		}
		log.Info("Processed file", fields)
	}

	if s.journal != nil {
		totals := database.RunTotals{
			Files:       len(summary.Files),
			FailedFiles: summary.FailedFiles,
			Imported:    summary.Imported,
			Skipped:     summary.Skipped,
			Failed:      summary.Failed,
		}
		if err := s.journal.FinishRun(ctx, summary.RunID, time.Now(), totals); err != nil {
			log.Warn("Failed to finish import run", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	log.Info("Import run completed", map[string]interface{}{
		"files":        len(summary.Files),
		"failed_files": summary.FailedFiles,
		"imported":     summary.Imported,
		"skipped":      summary.Skipped,
		"failed":       summary.Failed,
	})
	return summary
}

func (s *Service) processFile(ctx context.Context, runID string, file FileRef) (result FileResult) {
	result.File = file
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("panic while processing file: %v", r)
		}
	}()

	ownerID, err := ParseOwnerID(file.Key)
	if err != nil {
		result.Err = err
		return result
	}
	result.OwnerID = ownerID

	log := scoped(ctx, s.log).WithFields(map[string]interface{}{
		"file":     file.String(),
		"owner_id": ownerID,
	})
	ctx = logger.NewContext(ctx, log)

	path, err := s.storage.Download(ctx, file.Bucket, file.Key)
	if err != nil {
		result.Err = fmt.Errorf("failed to download %s: %w", file, err)
		return result
	}
	if !s.keepFiles {
		defer os.Remove(path)
	}

	f, err := os.Open(path)
	if err != nil {
		result.Err = fmt.Errorf("failed to open %s: %w", path, err)
		return result
	}
	defer f.Close()

	rows, err := NewRowReader(f)
	if err != nil {
		result.Err = err
		return result
	}

	log.Debug("Processing file", map[string]interface{}{
		"path":    path,
		"columns": rows.Header(),
	})

	for {
		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("import cancelled: %w", err)
			return result
		}

		row, line, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		var outcome RowResult
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				result.Err = fmt.Errorf("failed to read csv: %w", err)
				return result
			}
			outcome = RowResult{Row: line, Status: StatusFailed, Reason: err.Error()}
		} else {
			outcome = s.processRow(ctx, ownerID, line, row)
		}

		if outcome.Status == StatusFailed {
			log.Warn("Failed to import row", map[string]interface{}{
				"row":    outcome.Row,
				"title":  outcome.Title,
				"reason": outcome.Reason,
			})
		}
		result.add(outcome)
		s.record(ctx, runID, file, ownerID, outcome)
	}

	return result
}

func (s *Service) processRow(ctx context.Context, ownerID, line int, row RawRow) (outcome RowResult) {
	title, _ := row.Value(ColumnTitle)
	outcome = RowResult{Row: line, Title: title}

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = StatusFailed
			outcome.Reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	if reason, skip := s.normalizer.SkipReason(row); skip {
		scoped(ctx, s.log).Debug("Skipping row", map[string]interface{}{
			"row":    line,
			"title":  title,
			"reason": reason,
		})
		outcome.Status = StatusSkipped
		outcome.Reason = reason
		return outcome
	}

	candidate, _ := row.Value(ColumnISBN)
	isbn, _ := s.resolver.Resolve(ctx, title, candidate)
	link, _ := s.linker.Link(ctx, isbn, title)
	outcome.ISBN = isbn

	normalized := s.normalizer.Normalize(row, isbn, link, ownerID)
	if normalized.Skipped() {
		outcome.Status = StatusSkipped
		outcome.Reason = normalized.SkipReason
		return outcome
	}

	scoped(ctx, s.log).Debug("Submitting row", map[string]interface{}{
		"row":        line,
		"title":      title,
		"isbn":       isbn,
		"quick_link": link,
	})

	bookID, err := s.submitter.Submit(ctx, ownerID, *normalized.Submission)
	outcome.BookID = bookID.String()
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Reason = err.Error()
		var submitErr *SubmitError
		if errors.As(err, &submitErr) && submitErr.Orphaned() {
			outcome.Orphaned = true
		}
		return outcome
	}

	outcome.Status = StatusImported
	return outcome
}

func (s *Service) record(ctx context.Context, runID string, file FileRef, ownerID int, outcome RowResult) {
	if s.journal == nil {
		return
	}
	err := s.journal.RecordOutcome(ctx, &database.RowOutcome{
		RunID:     runID,
		Bucket:    file.Bucket,
		ObjectKey: file.Key,
		Row:       outcome.Row,
		OwnerID:   ownerID,
		Title:     outcome.Title,
		ISBN:      outcome.ISBN,
		Status:    string(outcome.Status),
		Reason:    outcome.Reason,
		BookID:    outcome.BookID,
		Orphaned:  outcome.Orphaned,
	})
	if err != nil {
		scoped(ctx, s.log).Warn("Failed to record row outcome", map[string]interface{}{
			"row":   outcome.Row,
			"error": err.Error(),
		})
	}
}

// scoped returns the run or file logger carried by ctx, or fallback
func scoped(ctx context.Context, fallback *logger.Logger) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return fallback
}
