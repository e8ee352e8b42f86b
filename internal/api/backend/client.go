package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shelfnotes/storygraph-import/internal/logger"
	"github.com/shelfnotes/storygraph-import/internal/models"
)

const (
	refreshTokenPath = "/auth/refresh-token"
	booksPath        = "/books"
	usersBooksPath   = "/users-books"

	// maxErrorBody bounds how much of an error response is kept
	maxErrorBody = 1024
)

// Client is a client for the backend catalog API
type Client struct {
	baseURL        string
	refreshToken   string
	accessToken    string
	tokenExpiresAt time.Time // zero when the token carries no exp claim
	httpClient     *http.Client
	logger         *logger.Logger
	now            func() time.Time
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithAccessToken skips the refresh exchange, mostly for tests
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = token
		c.tokenExpiresAt, _ = tokenExpiry(token)
	}
}

// NewClient creates a new backend client. Call Authenticate before any write.
func NewClient(baseURL, refreshToken string, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.Get()
	}
	c := &Client{
		baseURL:      baseURL,
		refreshToken: refreshToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithFields(map[string]interface{}{"component": "backend_client"}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate exchanges the refresh credential for an access token.
// The token is kept for the lifetime of the client, one invocation.
func (c *Client) Authenticate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshTokenPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.refreshToken)
	req.Header.Set("Accept", "application/json")

	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.do(req, "refresh token", &result); err != nil {
		return err
	}
	if result.AccessToken == "" {
		return ErrNoAccessToken
	}

	c.accessToken = result.AccessToken
	c.tokenExpiresAt, _ = tokenExpiry(result.AccessToken)

	fields := map[string]interface{}{}
	if !c.tokenExpiresAt.IsZero() {
		fields["expires_at"] = c.tokenExpiresAt.Format(time.RFC3339)
	}
	c.logger.Debug("Obtained access token", fields)
	return nil
}

// Authenticated reports whether an access token is held
func (c *Client) Authenticated() bool {
	return c.accessToken != ""
}

// CreateBook posts the book half of a submission. It is never retried.
func (c *Client) CreateBook(ctx context.Context, book models.BookPayload) (*models.BookRecord, error) {
	var record models.BookRecord
	if err := c.postJSON(ctx, "create book", booksPath, book, &record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, fmt.Errorf("create book: response has no id")
	}

	c.logger.Debug("Book created", map[string]interface{}{
		"title":   book.Title,
		"book_id": record.ID.String(),
	})
	return &record, nil
}

// AttachUserBook posts the user's reading record for an existing book.
// One call is one attempt; retrying is up to the caller.
func (c *Client) AttachUserBook(ctx context.Context, userID int, bookID models.BookID, userBook models.UserBookPayload) error {
	path := fmt.Sprintf("%s/%s/%s", usersBooksPath, strconv.Itoa(userID), url.PathEscape(bookID.String()))
	return c.postJSON(ctx, "attach user book", path, userBook, nil)
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload, out interface{}) error {
	if c.accessToken == "" {
		return fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	if c.tokenExpiring() {
		c.logger.Debug("Access token about to expire, refreshing")
		if err := c.Authenticate(ctx); err != nil {
			return fmt.Errorf("%s: failed to refresh access token: %w", op, err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: failed to encode payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}
