package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Column names of the StoryGraph export
const (
	ColumnTitle      = "Title"
	ColumnISBN       = "ISBN/UID"
	ColumnDatesRead  = "Dates Read"
	ColumnReview     = "Review"
	ColumnStarRating = "Star Rating"
	ColumnReadStatus = "Read Status"
	ColumnTags       = "Tags"
)

const byteOrderMark = "\ufeff"

// RawRow maps column name to cell value for one CSV line
type RawRow map[string]string

// Value returns the trimmed cell and whether the column was present
func (r RawRow) Value(column string) (string, bool) {
	v, ok := r[column]
	return strings.TrimSpace(v), ok
}

// RowReader yields the data rows of a CSV file keyed by its header
type RowReader struct {
	csv    *csv.Reader
	header []string
	line   int
}

// NewRowReader reads the header row of r
func NewRowReader(r io.Reader) (*RowReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, byteOrderMark)
		}
		header[i] = strings.TrimSpace(h)
	}

	return &RowReader{csv: cr, header: header}, nil
}

// Header returns the normalised column names
func (r *RowReader) Header() []string {
	return r.header
}

// Next returns the next data row and its 1 based position. io.EOF marks the
// end of the file. A *csv.ParseError only affects the current row.
func (r *RowReader) Next() (RawRow, int, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, r.line, io.EOF
		}
		r.line++
		return nil, r.line, err
	}
	r.line++

	row := make(RawRow, len(r.header))
	for i, name := range r.header {
		if name == "" || i >= len(record) {
			continue
		}
		row[name] = record[i]
	}
	return row, r.line, nil
}
