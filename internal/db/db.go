package db

import (
	"errors"
	"time"

	"github.com/xtymac/eventflow-sub004/internal/logging"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// ErrEmptyDSN is returned by Open when no connection string is configured.
var ErrEmptyDSN = errors.New("DATABASE_URL is empty")

// Open connects to Postgres and applies the pool defaults.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}

	// Slow queries surface in the structured log; record-not-found is routine.
	lg := logger.New(
		logging.GormWriter{},
		logger.Config{
			SlowThreshold:             100 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: lg,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Sync runs hold one connection per replacement transaction; readers
	// share the rest.
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Connect opens the global connection or exits the process.
func Connect(dsn string) {
	d, err := Open(dsn)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to database")
	}
	DB = d
	logging.Info().Msg("Connected to database")
}
