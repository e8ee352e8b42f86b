package importer

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shelfnotes/storygraph-import/internal/config"
	"github.com/shelfnotes/storygraph-import/internal/models"
)

const isoDate = "2006-01-02"

// dateLayouts are tried in order for a single date value
var dateLayouts = []string{
	isoDate,
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"1/2/2006",
}

// rangeSeparators split a "Dates Read" value when present
var rangeSeparators = []string{" - ", " – ", " — ", " to ", "–", "—"}

// Normalized is the result of normalizing one row. Submission is nil when
// the row is skipped.
type Normalized struct {
	Submission *models.Submission
	SkipReason string
}

// Skipped reports whether the row must not be submitted
func (n Normalized) Skipped() bool {
	return n.Submission == nil
}

// Normalizer maps a raw CSV row to backend payloads
type Normalizer struct {
	skipStatuses map[string]struct{}
	defaultNotes string
}

// NewNormalizer builds a normalizer. Statuses are matched case-insensitively.
func NewNormalizer(skipStatuses []string, defaultNotes string) *Normalizer {
	if defaultNotes == "" {
		defaultNotes = config.DefaultNotes
	}
	n := &Normalizer{
		skipStatuses: make(map[string]struct{}, len(skipStatuses)),
		defaultNotes: defaultNotes,
	}
	for _, s := range skipStatuses {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			n.skipStatuses[s] = struct{}{}
		}
	}
	return n
}

// SkipReason reports whether the row must be skipped before any lookup
func (n *Normalizer) SkipReason(row RawRow) (string, bool) {
	if status, ok := row.Value(ColumnReadStatus); ok {
		if _, skip := n.skipStatuses[strings.ToLower(status)]; skip {
			return "read status " + status, true
		}
	}
	if title, _ := row.Value(ColumnTitle); title == "" {
		return "missing title", true
	}
	return "", false
}

// Normalize produces the book and user-book payloads for a row.
// isbn and link are empty when unknown.
func (n *Normalizer) Normalize(row RawRow, isbn, link string, ownerID int) Normalized {
	if reason, skip := n.SkipReason(row); skip {
		return Normalized{SkipReason: reason}
	}

	title, _ := row.Value(ColumnTitle)
	started, finished := parseDatesRead(row[ColumnDatesRead])

	notes := row[ColumnReview]
	if strings.TrimSpace(notes) == "" {
		notes = n.defaultNotes
	}

	return Normalized{Submission: &models.Submission{
		Book: models.BookPayload{
			Title:       title,
			ISBN:        models.StringPtr(isbn),
			Tags:        parseTags(row[ColumnTags]),
			CreatedByID: ownerID,
			QuickLink:   models.StringPtr(link),
		},
		UserBook: models.UserBookPayload{
			UserRating:   parseRating(row[ColumnStarRating]),
			DateStarted:  started,
			DateFinished: finished,
			UserNotes:    notes,
			Import:       true,
		},
	}}
}

// parseRating doubles a 0-5 star value. Anything else is nil.
func parseRating(value string) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	stars, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(stars) || stars < 0 || stars > 5 {
		return nil
	}
	rating := int(stars * 2)
	return &rating
}

func parseTags(value string) []string {
	tags := []string{}
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// parseDatesRead splits a "Dates Read" cell into ISO start and finish
// dates. A single date is used for both.
func parseDatesRead(value string) (*string, *string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if d, ok := normalizeDate(value); ok {
		return &d, &d
	}

	for _, sep := range rangeSeparators {
		if left, right, found := strings.Cut(value, sep); found {
			return normalizeSide(left), normalizeSide(right)
		}
	}

	// ISO dates contain dashes themselves, so try every dash until both
	// sides are either empty or a date.
	dashes := 0
	for i := 0; i < len(value); i++ {
		if value[i] != '-' {
			continue
		}
		dashes++
		left := strings.TrimSpace(value[:i])
		right := strings.TrimSpace(value[i+1:])
		if left == "" && right == "" {
			continue
		}
		if sideOK(left) && sideOK(right) {
			return normalizeSide(left), normalizeSide(right)
		}
	}

	if dashes == 1 {
		left, right, _ := strings.Cut(value, "-")
		return normalizeSide(left), normalizeSide(right)
	}
	return nil, nil
}

func sideOK(s string) bool {
	if s == "" {
		return true
	}
	_, ok := normalizeDate(s)
	return ok
}

func normalizeSide(s string) *string {
	d, ok := normalizeDate(strings.TrimSpace(s))
	if !ok {
		return nil
	}
	return &d
}

// normalizeDate converts one date to YYYY-MM-DD. A bare year is January 1.
func normalizeDate(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if len(s) == 4 && isDigits(s) {
		return s + "-01-01", true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDate), true
		}
	}
	return "", false
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
