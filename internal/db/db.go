package db

import (
	"context"
	"fmt"
	"time"

	"relay/internal/app/message"
	"relay/internal/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	return Open(cfg.PostgresDSN(), logger)
}

// Open connects to PostgreSQL at dsn. TranslateError maps unique violations to
// gorm.ErrDuplicatedKey.
func Open(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         NewGormLogger(logger, 200*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("Connected to PostgreSQL")
	return db, nil
}

func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&message.Message{}); err != nil {
		return fmt.Errorf("migrate messages: %w", err)
	}
	logger.Info("Database migrated", zap.Strings("tables", []string{message.Message{}.TableName()}))
	return nil
}
