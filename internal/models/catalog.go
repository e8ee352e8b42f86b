package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BookPayload is the body of POST /books
type BookPayload struct {
	Title       string   `json:"title"`
	ISBN        *string  `json:"isbn"`
	Tags        []string `json:"tags"`
	CreatedByID int      `json:"createdById"`
	QuickLink   *string  `json:"quickLink"`
}

// UserBookPayload is the body of POST /users-books/{userId}/{bookId}
type UserBookPayload struct {
	// UserRating is a 0-10 value, twice the 0-5 star rating
	UserRating   *int    `json:"userRating"`
	DateStarted  *string `json:"dateStarted"`
	DateFinished *string `json:"dateFinished"`
	UserNotes    string  `json:"userNotes"`
	Import       bool    `json:"import"`
}

// Submission is one normalized CSV row, ready for the two backend writes
type Submission struct {
	Book     BookPayload
	UserBook UserBookPayload
}

// BookID is the backend identifier of a created book. The backend may
// answer with a number or a string, both are kept in textual form.
type BookID string

// UnmarshalJSON accepts both JSON numbers and strings
func (id *BookID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = BookID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("book id must be a number or string: %w", err)
	}
	*id = BookID(n.String())
	return nil
}

func (id BookID) String() string {
	return string(id)
}

// BookRecord is the backend representation returned after creation.
// Only ID is used downstream.
type BookRecord struct {
	ID    BookID `json:"id"`
	Title string `json:"title,omitempty"`
}

// StringPtr returns a pointer to s, or nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
