package database

import (
	"fmt"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shelfnotes/storygraph-import/internal/logger"
)

// Database wraps the GORM connection to the import journal
type Database struct {
	db     *gorm.DB
	config Config
	logger *logger.Logger
}

// NewDatabase connects to (and migrates) the journal
func NewDatabase(cfg Config, log *logger.Logger) (*Database, error) {
	if log == nil {
		log = logger.Get()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s journal: %w", cfg.Type, err)
	}
	if err := cfg.configurePool(db); err != nil {
		return nil, err
	}

	if cfg.Type == DatabaseTypeSQLite || cfg.Type == "" {
		if err := db.Exec("PRAGMA foreign_keys=ON").Error; err != nil {
			log.Warn("Failed to enable foreign keys", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	database := &Database{db: db, config: cfg, logger: log}
	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Debug("Journal database ready", map[string]interface{}{
		"type": string(cfg.Type),
		"path": cfg.Path,
	})
	return database, nil
}

// OpenSQLite opens a SQLite journal at path
func OpenSQLite(path string, log *logger.Logger) (*Database, error) {
	return NewDatabase(Config{Type: DatabaseTypeSQLite, Path: path}, log)
}

func (d *Database) migrate() error {
	if err := d.db.AutoMigrate(&ImportRun{}, &RowOutcome{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// GetDB returns the underlying GORM database instance
func (d *Database) GetDB() *gorm.DB {
	return d.db
}
