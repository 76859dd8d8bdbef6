package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/noah-isme/gema-task-api/internal/models"
)

const (
	maxOpenConns    = 20
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
	slowQuery       = 500 * time.Millisecond
)

// ConnectPostgres opens the submission store. GORM warnings and slow queries go to logger.
func ConnectPostgres(dsn string, logger zerolog.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(gormWriter{logger: logger.With().Str("component", "gorm").Logger()}, gormlogger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return db, nil
}

// Migrate creates or updates the tables owned by the task submission service.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Task{}, &models.TaskProblem{}, &models.Submission{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Msgf(format, args...)
}
