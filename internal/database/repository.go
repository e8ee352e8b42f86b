package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shelfnotes/storygraph-import/internal/logger"
)

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("import run not found")

// Repository stores import runs and row outcomes
type Repository struct {
	db     *Database
	logger *logger.Logger
}

// NewRepository creates a new repository instance
func NewRepository(db *Database, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.Get()
	}
	return &Repository{db: db, logger: log}
}

// StartRun records the beginning of an invocation
func (r *Repository) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	run := ImportRun{ID: runID, StartedAt: startedAt}
	if err := r.db.GetDB().WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}
	return nil
}

// RecordOutcome stores the result of one row
func (r *Repository) RecordOutcome(ctx context.Context, outcome *RowOutcome) error {
	if err := r.db.GetDB().WithContext(ctx).Create(outcome).Error; err != nil {
		return fmt.Errorf("failed to record row outcome: %w", err)
	}
	return nil
}

// RunTotals are the aggregate counters written when a run finishes
type RunTotals struct {
	Files       int
	FailedFiles int
	Imported    int
	Skipped     int
	Failed      int
}

// FinishRun stores the totals of a finished invocation
func (r *Repository) FinishRun(ctx context.Context, runID string, finishedAt time.Time, totals RunTotals) error {
	res := r.db.GetDB().WithContext(ctx).Model(&ImportRun{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"finished_at": finishedAt,
		"files":       totals.Files,
		"failed_file": totals.FailedFiles,
		"imported":    totals.Imported,
		"skipped":     totals.Skipped,
		"failed":      totals.Failed,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to finish import run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun loads a run with its outcomes in row order
func (r *Repository) GetRun(ctx context.Context, runID string) (*ImportRun, error) {
	var run ImportRun
	err := r.db.GetDB().WithContext(ctx).
		Preload("Outcomes", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		}).
		Where("id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load import run: %w", err)
	}
	return &run, nil
}

// ListOrphans returns books that were created but never attached to their
// owner, optionally limited to one owner (ownerID > 0).
func (r *Repository) ListOrphans(ctx context.Context, ownerID int) ([]RowOutcome, error) {
	q := r.db.GetDB().WithContext(ctx).Where("orphaned = ?", true)
	if ownerID > 0 {
		q = q.Where("owner_id = ?", ownerID)
	}

	var outcomes []RowOutcome
	if err := q.Order("id ASC").Find(&outcomes).Error; err != nil {
		return nil, fmt.Errorf("failed to list orphaned books: %w", err)
	}
	return outcomes, nil
}
