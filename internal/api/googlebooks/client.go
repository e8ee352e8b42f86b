package googlebooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shelfnotes/storygraph-import/internal/logger"
	"github.com/shelfnotes/storygraph-import/internal/util"
)

const (
	// DefaultBaseURL is the public Google Books API root
	DefaultBaseURL = "https://www.googleapis.com/books/v1"

	// DefaultTimeout bounds a single volumes request
	DefaultTimeout = 15 * time.Second

	// IdentifierISBN13 is the industryIdentifiers type of a 13 digit ISBN
	IdentifierISBN13 = "ISBN_13"
)

// VolumesResponse is the subset of /volumes we consume
type VolumesResponse struct {
	TotalItems int      `json:"totalItems"`
	Items      []Volume `json:"items"`
}

// Volume is one search result
type Volume struct {
	ID         string     `json:"id"`
	SelfLink   string     `json:"selfLink"`
	VolumeInfo VolumeInfo `json:"volumeInfo"`
}

// VolumeInfo holds the bibliographic fields of a volume
type VolumeInfo struct {
	Title               string               `json:"title"`
	Authors             []string             `json:"authors,omitempty"`
	IndustryIdentifiers []IndustryIdentifier `json:"industryIdentifiers,omitempty"`
}

// IndustryIdentifier is a typed identifier such as ISBN_10 or ISBN_13
type IndustryIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

// ISBN13 returns the first ISBN_13 identifier of the volume
func (v Volume) ISBN13() (string, bool) {
	for _, id := range v.VolumeInfo.IndustryIdentifiers {
		if id.Type == IdentifierISBN13 && id.Identifier != "" {
			return id.Identifier, true
		}
	}
	return "", false
}

// Client talks to the Google Books volumes endpoint
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *util.RateLimiter
	logger     *logger.Logger
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey sends the given key with every request
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimiter throttles outgoing requests
func WithRateLimiter(rl *util.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// NewClient creates a new Google Books client
func NewClient(baseURL string, log *logger.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logger.Get()
	}

	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: log.WithFields(map[string]interface{}{"component": "googlebooks_client"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchByTitle runs q=intitle:{title}
func (c *Client) SearchByTitle(ctx context.Context, title string) (*VolumesResponse, error) {
	return c.search(ctx, "intitle:"+title)
}

// SearchByISBN runs q=isbn:{isbn}
func (c *Client) SearchByISBN(ctx context.Context, isbn string) (*VolumesResponse, error) {
	return c.search(ctx, "isbn:"+isbn)
}

func (c *Client) search(ctx context.Context, query string) (*VolumesResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	endpoint := c.baseURL + "/volumes?" + params.Encode()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Querying Google Books", map[string]interface{}{"query": query})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if c.limiter != nil {
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			pause := c.limiter.OnRateLimit(util.ParseRetryAfter(resp.Header.Get("Retry-After")))
			c.logger.Warn("Google Books rate limited, pausing lookups", map[string]interface{}{
				"pause": pause.String(),
				"rate":  c.limiter.GetRate().String(),
			})
		case http.StatusOK:
			c.limiter.ResetRate()
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result VolumesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}
