package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	// Pure Go SQLite driver, no CGO required inside the Lambda runtime
	_ "modernc.org/sqlite"
)

// DatabaseType represents the supported journal backends
type DatabaseType string

const (
	DatabaseTypeSQLite     DatabaseType = "sqlite"
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
	DatabaseTypeMySQL      DatabaseType = "mysql"
)

// ParseDatabaseType maps a configured driver name to a DatabaseType
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	case "postgres", "postgresql":
		return DatabaseTypePostgreSQL, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// Config selects the journal backend. SQLite uses Path, the others DSN.
type Config struct {
	Type         DatabaseType
	Path         string
	DSN          string
	MaxOpenConns int
}

// Validate checks that the backend has what it needs to connect
func (c Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite, "":
		if c.Path == "" {
			return fmt.Errorf("sqlite journal requires a path")
		}
	case DatabaseTypePostgreSQL, DatabaseTypeMySQL:
		if c.DSN == "" {
			return fmt.Errorf("%s journal requires a DSN", c.Type)
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

func (c Config) dialector() (gorm.Dialector, error) {
	switch c.Type {
	case DatabaseTypeSQLite, "":
		if c.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Dialector{DriverName: "sqlite", DSN: c.Path}, nil
	case DatabaseTypePostgreSQL:
		return postgres.Open(c.DSN), nil
	case DatabaseTypeMySQL:
		return mysql.Open(c.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

func (c Config) configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if c.Type == DatabaseTypeSQLite || c.Type == "" {
		// SQLite only supports one writer at a time
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(time.Hour)
		return nil
	}

	maxOpen := c.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)
	return nil
}
