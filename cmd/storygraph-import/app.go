package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shelfnotes/storygraph-import/internal/api/backend"
	"github.com/shelfnotes/storygraph-import/internal/api/googlebooks"
	"github.com/shelfnotes/storygraph-import/internal/config"
	"github.com/shelfnotes/storygraph-import/internal/database"
	"github.com/shelfnotes/storygraph-import/internal/handler"
	"github.com/shelfnotes/storygraph-import/internal/importer"
	"github.com/shelfnotes/storygraph-import/internal/logger"
	"github.com/shelfnotes/storygraph-import/internal/storage"
	"github.com/shelfnotes/storygraph-import/internal/util"
)

// app holds the wired components of one process
type app struct {
	handler *handler.Handler
	db      *database.Database
}

func newApp(ctx context.Context, configFile string, verbose bool) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.App.Debug = true
	}

	logger.Setup(logger.Config{
		Level:      cfg.LogLevel(),
		Format:     logger.ParseLogFormat(cfg.Logging.Format),
		Output:     os.Stdout,
		TimeFormat: time.RFC3339,
	})
	log := logger.Get()

	log.Info("Starting storygraph-import", map[string]interface{}{
		"version":        version,
		"log_level":      log.GetLevel().String(),
		"storage_driver": cfg.Storage.Driver,
		"journal":        cfg.JournalEnabled(),
	})

	store, err := newDownloader(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	books := googlebooks.NewClient(cfg.GoogleBooks.BaseURL, log,
		googlebooks.WithAPIKey(cfg.GoogleBooks.APIKey),
		googlebooks.WithTimeout(cfg.GoogleBooks.Timeout),
		googlebooks.WithRateLimiter(util.NewRateLimiter(cfg.GoogleBooks.RateLimit, cfg.GoogleBooks.Burst)),
	)
	api := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RefreshToken, log,
		backend.WithTimeout(cfg.Backend.Timeout),
	)

	opts := []importer.Option{
		importer.WithLogger(log),
		importer.WithKeepFiles(cfg.Storage.KeepFiles),
	}
	a := &app{}
	if cfg.JournalEnabled() {
		db, err := openJournal(cfg.Journal.Driver, cfg.Journal.Path, cfg.Journal.DSN, log)
		if err != nil {
			return nil, err
		}
		a.db = db
		opts = append(opts, importer.WithJournal(database.NewRepository(db, log)))
	}

	svc := importer.NewService(store, books, api, cfg, opts...)
	a.handler = handler.New(api, svc, log)
	return a, nil
}

func openJournal(driver, path, dsn string, log *logger.Logger) (*database.Database, error) {
	dbType, err := database.ParseDatabaseType(driver)
	if err != nil {
		return nil, err
	}
	db, err := database.NewDatabase(database.Config{Type: dbType, Path: path, DSN: dsn}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return db, nil
}

func newDownloader(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.Downloader, error) {
	if cfg.Storage.Driver == "local" {
		return storage.NewLocalStore(cfg.Storage.LocalRoot, cfg.Storage.DownloadDir), nil
	}

	client, err := storage.NewS3Client(ctx, storage.S3Config{
		Region:    cfg.Storage.Region,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewS3Store(client, cfg.Storage.DownloadDir, log), nil
}

// Close releases the journal, if one is open
func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
