package database

import (
	"time"

	"gorm.io/gorm"
)

// ImportRun is one invocation of the importer
type ImportRun struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Files      int        `json:"files"`
	FailedFile int        `json:"failed_files"`
	Imported   int        `json:"imported"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`

	Outcomes []RowOutcome `gorm:"foreignKey:RunID" json:"outcomes,omitempty"`
}

// RowOutcome is the result of one CSV row
type RowOutcome struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"index;not null" json:"run_id"`
	Bucket    string    `json:"bucket"`
	ObjectKey string    `gorm:"index" json:"object_key"`
	Row       int       `json:"row"`
	OwnerID   int       `gorm:"index" json:"owner_id"`
	Title     string    `json:"title"`
	ISBN      string    `json:"isbn,omitempty"`
	Status    string    `gorm:"index;not null" json:"status"`
	Reason    string    `json:"reason,omitempty"`
	BookID    string    `json:"book_id,omitempty"`
	Orphaned  bool      `gorm:"index" json:"orphaned"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate hook for ImportRun
func (r *ImportRun) BeforeCreate(tx *gorm.DB) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	return nil
}

// BeforeCreate hook for RowOutcome
func (o *RowOutcome) BeforeCreate(tx *gorm.DB) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	return nil
}
