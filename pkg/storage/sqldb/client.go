package sqldb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"alertengine/config"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client owns the gorm handle shared by CandleStore and AlertStore.
type Client struct {
	DB     *gorm.DB
	Driver string
}

// NewClient opens dsn with the given driver ("postgres" or "sqlite").
func NewClient(driver, dsn string) (*Client, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == config.DriverSQLite {
		// single writer; WAL lets readers proceed
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	return &Client{DB: db, Driver: driver}, nil
}

// SQLiteDSN builds the go-sqlite3 DSN for path with WAL and foreign keys enabled.
func SQLiteDSN(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

// Open connects according to cfg, optionally creates the postgres database, and migrates.
func Open(cfg config.DatabaseConfig, env string) (*Client, error) {
	var (
		client *Client
		err    error
	)

	switch cfg.Driver {
	case config.DriverPostgres:
		if cfg.CreateDB {
			if err := CreateDatabase(cfg.Postgres); err != nil {
				return nil, fmt.Errorf("failed to create database: %w", err)
			}
		}
		dsn, dsnErr := cfg.Postgres.DSN(env)
		if dsnErr != nil {
			return nil, dsnErr
		}
		if client, err = NewClient(config.DriverPostgres, dsn); err != nil {
			return nil, err
		}
		sqlDB, err := client.DB.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
		}
		if cfg.Postgres.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}

	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		if client, err = NewClient(config.DriverSQLite, SQLiteDSN(cfg.SQLitePath)); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := client.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

// AutoMigrate creates or updates every table the engine persists.
func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&InstrumentRecord{}, &CandleRecord{}, &AlertRecord{}, &TriggerRecord{}, &IndicatorDefinitionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
