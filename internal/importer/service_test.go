package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shelfnotes/storygraph-import/internal/api/backend"
	"github.com/shelfnotes/storygraph-import/internal/api/googlebooks"
	"github.com/shelfnotes/storygraph-import/internal/config"
	"github.com/shelfnotes/storygraph-import/internal/database"
	"github.com/shelfnotes/storygraph-import/internal/logger"
	"github.com/shelfnotes/storygraph-import/internal/models"
	"github.com/shelfnotes/storygraph-import/internal/storage"
)

const exportHeader = "Title,Authors,Contributors,ISBN/UID,Format,Read Status,Date Added,Last Date Read,Dates Read,Read Count,Moods,Pace,Character- or Plot-Driven?,Strong Character Development?,Loveable Characters?,Diverse Characters?,Flawed Characters?,Star Rating,Review,Content Warnings,Content Warning Description,Tags,Owned?\n"

// writeExport places a CSV under root/bucket/key and returns the store
func writeExport(t *testing.T, bucket, key, content string) *storage.LocalStore {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, bucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return storage.NewLocalStore(root, t.TempDir())
}

func testConfig() *config.Config {
	return config.Default()
}

type backendCall struct {
	Path string
	Body map[string]interface{}
}

func TestRunEndToEnd(t *testing.T) {
	var (
		mu          sync.Mutex
		calls       []backendCall
		googleCalls []string
	)

	google := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		googleCalls = append(googleCalls, r.URL.Query().Get("q"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalItems":1,"items":[{"id":"abc","selfLink":"https://books.test/volumes/abc"}]}`)
	}))
	defer google.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		calls = append(calls, backendCall{Path: r.URL.Path, Body: body})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/books" {
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":101,"title":"Dune"}`)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer api.Close()

	csv := exportHeader +
		"Dune,Frank Herbert,,9780441172719,paperback,read,2023/01/01,2023/02/01,2023/01/15-2023/02/01,1,,,,,,,,4.5,Great book,,,,No\n" +
		"Ulysses,James Joyce,,9780199535675,paperback,did-not-finish,2023/03/01,,,0,,,,,,,,,,,,,No\n"
	store := writeExport(t, "uploads", "imports/12_part1.csv", csv)

	books := googlebooks.NewClient(google.URL, logger.Nop())
	writer := backend.NewClient(api.URL, "refresh", logger.Nop(), backend.WithAccessToken("access-token"))
	sleeper := &recordingSleeper{}

	svc := NewService(store, books, writer, testConfig(), WithLogger(logger.Nop()), WithSleeper(sleeper.Sleep))
	summary := svc.Run(context.Background(), []FileRef{{Bucket: "uploads", Key: "imports/12_part1.csv"}})

	require.Len(t, summary.Files, 1)
	file := summary.Files[0]
	require.NoError(t, file.Err)
	assert.Equal(t, 12, file.OwnerID)
	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	require.Len(t, calls, 2)
	assert.Equal(t, "/books", calls[0].Path)
	assert.Equal(t, "Dune", calls[0].Body["title"])
	assert.Equal(t, "9780441172719", calls[0].Body["isbn"])
	assert.Equal(t, float64(12), calls[0].Body["createdById"])
	assert.Equal(t, "https://books.test/volumes/abc", calls[0].Body["quickLink"])
	assert.Equal(t, []interface{}{}, calls[0].Body["tags"])

	assert.Equal(t, "/users-books/12/101", calls[1].Path)
	assert.Equal(t, float64(9), calls[1].Body["userRating"])
	assert.Equal(t, "2023-01-15", calls[1].Body["dateStarted"])
	assert.Equal(t, "2023-02-01", calls[1].Body["dateFinished"])
	assert.Equal(t, "Great book", calls[1].Body["userNotes"])
	assert.Equal(t, true, calls[1].Body["import"])

	// Valid ISBN: no title lookup, one ISBN lookup for the link. The skipped row makes none.
	assert.Equal(t, []string{"isbn:9780441172719"}, googleCalls)
	assert.Empty(t, sleeper.pauses)

	assert.Equal(t, StatusImported, file.Rows[0].Status)
	assert.Equal(t, "101", file.Rows[0].BookID)
	assert.Equal(t, StatusSkipped, file.Rows[1].Status)
}

func TestRunAttachExhaustionContinuesWithNextRow(t *testing.T) {
	csv := exportHeader +
		"First,,,9780000000001,,read,,,2023,,,,,,,,,3,,,,,\n" +
		"Second,,,9780000000002,,read,,,2024,,,,,,,,,,,,,,\n"
	store := writeExport(t, "b", "5_part1.csv", csv)

	writer := new(MockBookWriter)
	writer.On("CreateBook", mock.Anything, mock.MatchedBy(func(b models.BookPayload) bool { return b.Title == "First" })).
		Return(&models.BookRecord{ID: "1"}, nil).Once()
	writer.On("CreateBook", mock.Anything, mock.MatchedBy(func(b models.BookPayload) bool { return b.Title == "Second" })).
		Return(&models.BookRecord{ID: "2"}, nil).Once()
	writer.On("AttachUserBook", mock.Anything, 5, models.BookID("1"), mock.Anything).Return(errors.New("503")).Times(3)
	writer.On("AttachUserBook", mock.Anything, 5, models.BookID("2"), mock.Anything).Return(nil).Once()

	sleeper := &recordingSleeper{}
	svc := NewService(store, &fakeSearcher{}, writer, testConfig(), WithLogger(logger.Nop()), WithSleeper(sleeper.Sleep))
	summary := svc.Run(context.Background(), []FileRef{{Bucket: "b", Key: "5_part1.csv"}})

	require.Len(t, summary.Files, 1)
	rows := summary.Files[0].Rows
	require.Len(t, rows, 2)
	assert.Equal(t, StatusFailed, rows[0].Status)
	assert.True(t, rows[0].Orphaned)
	assert.Equal(t, "1", rows[0].BookID)
	assert.Equal(t, StatusImported, rows[1].Status)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Imported)
	writer.AssertExpectations(t)
}

func TestRunCreateFailureNeverAttaches(t *testing.T) {
	csv := exportHeader + "Broken,,,9780000000001,,read,,,,,,,,,,,,,,,,,\n"
	store := writeExport(t, "b", "5.csv", csv)

	writer := new(MockBookWriter)
	writer.On("CreateBook", mock.Anything, mock.Anything).Return(nil, &backend.APIError{Op: "create book", StatusCode: 500}).Once()

	svc := NewService(store, &fakeSearcher{}, writer, testConfig(), WithLogger(logger.Nop()), WithSleeper((&recordingSleeper{}).Sleep))
	summary := svc.Run(context.Background(), []FileRef{{Bucket: "b", Key: "5.csv"}})

	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Files[0].Rows[0].Orphaned)
	writer.AssertNotCalled(t, "AttachUserBook", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// countingDownloader records downloads and delegates to a store
type countingDownloader struct {
	next  storage.Downloader
	keys  []string
	fails map[string]error
}

func (c *countingDownloader) Download(ctx context.Context, bucket, key string) (string, error) {
	c.keys = append(c.keys, key)
	if err, ok := c.fails[key]; ok {
		return "", err
	}
	return c.next.Download(ctx, bucket, key)
}

func TestRunFileFailuresAreIsolated(t *testing.T) {
	store := writeExport(t, "b", "8_part2.csv", exportHeader+"Emma,,,9781503261969,,read,,,,,,,,,,,,,,,,,\n")
	dl := &countingDownloader{next: store, fails: map[string]error{"9_part1.csv": errors.New("NoSuchKey")}}

	writer := new(MockBookWriter)
	writer.On("CreateBook", mock.Anything, mock.Anything).Return(&models.BookRecord{ID: "3"}, nil).Once()
	writer.On("AttachUserBook", mock.Anything, 8, models.BookID("3"), mock.Anything).Return(nil).Once()

	svc := NewService(dl, &fakeSearcher{}, writer, testConfig(), WithLogger(logger.Nop()))
	summary := svc.Run(context.Background(), []FileRef{
		{Bucket: "b", Key: "report.csv"},
		{Bucket: "b", Key: "9_part1.csv"},
		{Bucket: "b", Key: "8_part2.csv"},
	})

	require.Len(t, summary.Files, 3)
	assert.ErrorIs(t, summary.Files[0].Err, ErrInvalidObjectKey)
	assert.Error(t, summary.Files[1].Err)
	assert.NoError(t, summary.Files[2].Err)
	assert.Equal(t, 2, summary.FailedFiles)
	assert.Equal(t, 1, summary.Imported)

	// the malformed key is rejected before any download
	assert.Equal(t, []string{"9_part1.csv", "8_part2.csv"}, dl.keys)
}

// panickingWriter panics for one title
type panickingWriter struct {
	MockBookWriter
	title string
}

func (p *panickingWriter) CreateBook(ctx context.Context, book models.BookPayload) (*models.BookRecord, error) {
	if book.Title == p.title {
		panic("unexpected response shape")
	}
	return p.MockBookWriter.CreateBook(ctx, book)
}

func TestRunRecoversRowPanic(t *testing.T) {
	csv := exportHeader +
		"Bad,,,9780000000001,,read,,,,,,,,,,,,,,,,,\n" +
		"Good,,,9780000000002,,read,,,,,,,,,,,,,,,,,\n"
	store := writeExport(t, "b", "4_part1.csv", csv)

	writer := &panickingWriter{title: "Bad"}
	writer.On("CreateBook", mock.Anything, mock.Anything).Return(&models.BookRecord{ID: "9"}, nil).Once()
	writer.On("AttachUserBook", mock.Anything, 4, models.BookID("9"), mock.Anything).Return(nil).Once()

	svc := NewService(store, &fakeSearcher{}, writer, testConfig(), WithLogger(logger.Nop()))
	summary := svc.Run(context.Background(), []FileRef{{Bucket: "b", Key: "4_part1.csv"}})

	rows := summary.Files[0].Rows
	require.Len(t, rows, 2)
	assert.Equal(t, StatusFailed, rows[0].Status)
	assert.True(t, strings.Contains(rows[0].Reason, "panic"))
	assert.Equal(t, StatusImported, rows[1].Status)
}

func TestRunRecordsJournal(t *testing.T) {
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "journal.db"), logger.Nop())
	require.NoError(t, err)
	defer db.Close()
	repo := database.NewRepository(db, logger.Nop())

	csv := exportHeader +
		"Lost,,,9780000000001,,read,,,,,,,,,,,,,,,,,\n" +
		"Quit,,,9780000000002,,did-not-finish,,,,,,,,,,,,,,,,,\n"
	store := writeExport(t, "b", "21_part1.csv", csv)

	writer := new(MockBookWriter)
	writer.On("CreateBook", mock.Anything, mock.Anything).Return(&models.BookRecord{ID: "77"}, nil).Once()
	writer.On("AttachUserBook", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))

	svc := NewService(store, &fakeSearcher{}, writer, testConfig(),
		WithLogger(logger.Nop()),
		WithSleeper((&recordingSleeper{}).Sleep),
		WithJournal(repo),
		WithRunIDs(func() string { return "run-fixed" }),
	)
	summary := svc.Run(context.Background(), []FileRef{{Bucket: "b", Key: "21_part1.csv"}})
	assert.Equal(t, "run-fixed", summary.RunID)

	run, err := repo.GetRun(context.Background(), "run-fixed")
	require.NoError(t, err)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 1, run.Skipped)
	require.Len(t, run.Outcomes, 2)

	orphans, err := repo.ListOrphans(context.Background(), 21)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "77", orphans[0].BookID)
	assert.Equal(t, "Lost", orphans[0].Title)
}

func TestRunTrimsISBNCell(t *testing.T) {
	csv := exportHeader +
		"Dune,,, 9780441172719 ,,read,,,,,,,,,,,,,,,,,\n"
	store := writeExport(t, "b", "3_part1.csv", csv)

	books := &fakeSearcher{byISBN: map[string]*googlebooks.VolumesResponse{
		"9780441172719": volumes(volumeWithISBN("https://books.test/volumes/dune")),
	}}
	writer := new(MockBookWriter)
	writer.On("CreateBook", mock.Anything, mock.MatchedBy(func(b models.BookPayload) bool {
		return b.ISBN != nil && *b.ISBN == "9780441172719"
	})).Return(&models.BookRecord{ID: "5"}, nil).Once()
	writer.On("AttachUserBook", mock.Anything, 3, models.BookID("5"), mock.Anything).Return(nil).Once()

	svc := NewService(store, books, writer, testConfig(), WithLogger(logger.Nop()))
	summary := svc.Run(context.Background(), []FileRef{{Bucket: "b", Key: "3_part1.csv"}})

	assert.Equal(t, 1, summary.Imported)
	assert.Empty(t, books.titleCalls, "a padded 13 digit cell needs no title lookup")
	assert.Equal(t, []string{"9780441172719"}, books.isbnCalls)
	writer.AssertExpectations(t)
}

const skippedOnlyExport = exportHeader +
	"Quit,,,9780000000002,,did-not-finish,,,,,,,,,,,,,,,,,\n"

func TestRunLeavesLocalSourceInPlace(t *testing.T) {
	root := t.TempDir()
	exports := filepath.Join(root, "exports")
	require.NoError(t, os.MkdirAll(exports, 0o755))
	src := filepath.Join(exports, "7_part1.csv")
	require.NoError(t, os.WriteFile(src, []byte(skippedOnlyExport), 0o600))

	// downloads land in the folder the exports are read from
	store := storage.NewLocalStore(root, exports)
	svc := NewService(store, &fakeSearcher{}, new(MockBookWriter), testConfig(), WithLogger(logger.Nop()))
	summary := svc.Run(context.Background(), []FileRef{{Bucket: "exports", Key: "7_part1.csv"}})

	require.NoError(t, summary.Files[0].Err)
	assert.Equal(t, 1, summary.Skipped)

	_, err := os.Stat(src)
	assert.NoError(t, err)
	entries, err := os.ReadDir(exports)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the temporary copy is removed after processing")
}

func TestRunKeepFiles(t *testing.T) {
	tests := []struct {
		name string
		keep bool
		left int
	}{
		{name: "removed by default", keep: false, left: 0},
		{name: "kept on request", keep: true, left: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(root, "b", "8_part1.csv"), []byte(skippedOnlyExport), 0o600))
			downloads := t.TempDir()

			svc := NewService(storage.NewLocalStore(root, downloads), &fakeSearcher{}, new(MockBookWriter), testConfig(),
				WithLogger(logger.Nop()),
				WithKeepFiles(tt.keep),
			)
			summary := svc.Run(context.Background(), []FileRef{{Bucket: "b", Key: "8_part1.csv"}})
			require.NoError(t, summary.Files[0].Err)

			entries, err := os.ReadDir(downloads)
			require.NoError(t, err)
			assert.Len(t, entries, tt.left)
		})
	}
}

func TestRunScopesStageLogsToRunAndFile(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", Output: &buf})

	csv := exportHeader +
		"Obscure,,,n/a,,read,,,,,,,,,,,,,,,,,\n"
	store := writeExport(t, "b", "6_part1.csv", csv)

	writer := new(MockBookWriter)
	writer.On("CreateBook", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()

	svc := NewService(store, &fakeSearcher{}, writer, testConfig(),
		WithLogger(log),
		WithRunIDs(func() string { return "run-7" }),
	)
	svc.Run(context.Background(), []FileRef{{Bucket: "b", Key: "6_part1.csv"}})

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] != "No ISBN_13 found for title" {
			continue
		}
		found = true
		assert.Equal(t, "run-7", entry["run_id"])
		assert.Equal(t, "b/6_part1.csv", entry["file"])
		assert.EqualValues(t, 6, entry["owner_id"])
	}
	assert.True(t, found, "resolver line missing from:\n%s", buf.String())
}
