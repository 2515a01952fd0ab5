package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"library_service/pkg/config"
	"library_service/pkg/models"
)

const retryDelay = 5 * time.Second

// Open connects using cfg, retrying while the database is still starting up.
func Open(cfg config.DBConfig, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}

	dialector, target := dialectorFor(cfg)
	log.Info("connecting to database", "driver", cfg.Driver, "target", target)

	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var db *gorm.DB
	var err error
	for i := 0; i < attempts; i++ {
		db, err = gorm.Open(dialector, gormConfig(cfg.LogLevel))
		if err == nil {
			break
		}
		log.Warn("database connection attempt failed", "attempt", i+1, "of", attempts, "error", err)
		if i < attempts-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}

	if err := configurePool(db, cfg.Driver == "sqlite"); err != nil {
		return nil, err
	}
	if err := Ping(context.Background(), db); err != nil {
		return nil, err
	}

	log.Info("database connection established")
	return db, nil
}

// OpenInMemory returns a private sqlite database with all tables migrated.
func OpenInMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(sqliteDSN(":memory:")), gormConfig("silent"))
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory database")
	}
	if err := configurePool(db, true); err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return errors.Wrap(err, "database migration failed")
	}
	return nil
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get database instance")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}
	return nil
}

func dialectorFor(cfg config.DBConfig) (gorm.Dialector, string) {
	if cfg.Driver == "sqlite" {
		return sqlite.Open(sqliteDSN(cfg.Path)), cfg.Path
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port)
	return postgres.Open(dsn), fmt.Sprintf("%s@%s:%s/%s", cfg.User, cfg.Host, cfg.Port, cfg.Name)
}

// sqliteDSN turns on foreign key enforcement, which sqlite leaves off per connection.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		path = "file::memory:"
	}
	if strings.Contains(path, "_foreign_keys=") || strings.Contains(path, "_fk=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=1"
}

func gormConfig(level string) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logLevel(level)),
	}
}

func configurePool(db *gorm.DB, sqliteDB bool) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get database instance")
	}
	if sqliteDB {
		// sqlite allows one writer, and ":memory:" is private to its connection.
		sqlDB.SetMaxOpenConns(1)
		return nil
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return nil
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
