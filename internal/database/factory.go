package database

import (
	"fmt"
	"os"

	"lessonlog/internal/config"
)

// NewDatabaseFromConfig opens the live lesson database named by cfg,
// creating the app data directory on first use.
func NewDatabaseFromConfig(cfg *config.Config) (*SQLiteDatabase, error) {
	if cfg.AppDataDir == "" {
		return nil, fmt.Errorf("app_data_dir required for lesson database")
	}
	if err := os.MkdirAll(cfg.AppDataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating app data directory: %w", err)
	}
	return NewSQLiteDatabase(cfg.DatabasePath())
}
