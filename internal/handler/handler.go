package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/shelfnotes/storygraph-import/internal/importer"
	"github.com/shelfnotes/storygraph-import/internal/logger"
)

// CompletedMessage is the body of every successful invocation
const CompletedMessage = "CSV processing and API updates completed."

// ErrUndecodableBody is returned for queue messages that carry no file reference
var ErrUndecodableBody = errors.New("message body is not an S3 notification")

// Response is the invocation result returned to the Lambda runtime
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Authenticator obtains the backend access token for the invocation
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Runner processes the files of one invocation
type Runner interface {
	Run(ctx context.Context, files []importer.FileRef) importer.Summary
}

// Handler turns queue events into import runs
type Handler struct {
	auth   Authenticator
	runner Runner
	log    *logger.Logger
}

// New creates a new Handler
func New(auth Authenticator, runner Runner, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Get()
	}
	return &Handler{auth: auth, runner: runner, log: log}
}

// Handle processes one SQS batch. Only a failed token exchange is returned
// as an error; everything else is logged and reported as completed.
func (h *Handler) Handle(ctx context.Context, event events.SQSEvent) (Response, error) {
	if err := h.auth.Authenticate(ctx); err != nil {
		h.log.Error("Failed to obtain access token", map[string]interface{}{
			"error": err.Error(),
		})
		return Response{}, fmt.Errorf("failed to obtain access token: %w", err)
	}

	var files []importer.FileRef
	for _, record := range event.Records {
		refs, err := ParseMessageBody(record.Body)
		if err != nil {
			msg := "Skipping queue message"
			if len(refs) > 0 {
				msg = "Skipping unusable records of queue message"
			}
			h.log.Warn(msg, map[string]interface{}{
				"message_id": record.MessageId,
				"error":      err.Error(),
			})
		}
		if err == nil && len(refs) == 0 {
			h.log.Debug("Queue message has no file references", map[string]interface{}{
				"message_id": record.MessageId,
			})
		}
		files = append(files, refs...)
	}

	summary := h.runner.Run(ctx, files)
	h.log.Info("Invocation completed", map[string]interface{}{
		"run_id":   summary.RunID,
		"messages": len(event.Records),
		"files":    len(files),
		"imported": summary.Imported,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
	})

	return Response{StatusCode: http.StatusOK, Body: CompletedMessage}, nil
}

// notification is an S3 event notification, or an s3:TestEvent. Records
// are decoded one by one so a bad record does not hide the others.
type notification struct {
	Event   string            `json:"Event"`
	Records []json.RawMessage `json:"Records"`
}

// flatNotification is the minimal {bucket:{name}, object:{key}} shape
type flatNotification struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

// ParseMessageBody extracts the files referenced by one queue message.
// A body holding a JSON encoded string is decoded twice. S3 test events
// yield no files. Unusable records of a notification are reported in the
// error while the usable ones are still returned.
func ParseMessageBody(body string) ([]importer.FileRef, error) {
	raw := []byte(strings.TrimSpace(body))

	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		raw = []byte(nested)
	}

	var msg notification
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableBody, err)
	}

	if msg.Event == "s3:TestEvent" {
		return nil, nil
	}

	if len(msg.Records) > 0 {
		refs := make([]importer.FileRef, 0, len(msg.Records))
		var errs []error
		for i, raw := range msg.Records {
			var rec events.S3EventRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				errs = append(errs, fmt.Errorf("record %d: %w: %v", i, ErrUndecodableBody, err))
				continue
			}
			ref, err := fileRef(rec.S3.Bucket.Name, rec.S3.Object.Key)
			if err != nil {
				errs = append(errs, fmt.Errorf("record %d: %w", i, err))
				continue
			}
			refs = append(refs, ref)
		}
		return refs, errors.Join(errs...)
	}

	var flat flatNotification
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableBody, err)
	}
	ref, err := fileRef(flat.Bucket.Name, flat.Object.Key)
	if err != nil {
		return nil, err
	}
	return []importer.FileRef{ref}, nil
}

func fileRef(bucket, key string) (importer.FileRef, error) {
	key, err := decodeKey(key)
	if err != nil {
		return importer.FileRef{}, err
	}
	if bucket == "" || key == "" {
		return importer.FileRef{}, fmt.Errorf("%w: missing bucket or key", ErrUndecodableBody)
	}
	return importer.FileRef{Bucket: bucket, Key: key}, nil
}

// S3 notification keys are form encoded, so "+" is a space
func decodeKey(key string) (string, error) {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return "", fmt.Errorf("%w: bad object key %q: %v", ErrUndecodableBody, key, err)
	}
	return decoded, nil
}
