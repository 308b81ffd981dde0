package testutil

import (
	"path/filepath"
	"testing"

	"lessonlog/internal/database"
)

// NewTestDatabase creates a migrated SQLite database file in a temp
// directory. The backup subsystem needs a real file, so this is not an
// in-memory database. It is closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()
	return NewTestDatabaseAt(t, filepath.Join(t.TempDir(), "lessons.db"))
}

// NewTestDatabaseAt is NewTestDatabase with an explicit file path.
func NewTestDatabaseAt(t *testing.T, path string) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
