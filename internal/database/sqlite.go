package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"lessonlog/internal/backup"
	"lessonlog/internal/database/migrations"
	"lessonlog/internal/model"
)

// ErrReleased is returned by queries issued while the handle is released.
var ErrReleased = errors.New("database handle released")

// busyTimeoutMillis is how long a connection waits on a locked database.
const busyTimeoutMillis = 5000

// SQLiteDatabase is the live lesson database. It implements
// backup.DatabaseHandle so the backup subsystem can copy, release and
// replace the file underneath it.
type SQLiteDatabase struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	opened os.FileInfo // file the pool was opened on; nil for ":memory:"
}

// NewSQLiteDatabase opens the database at path and migrates it to the latest
// schema. path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	s := &SQLiteDatabase{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenConnection opens and configures a SQLite database connection.
// Exported for tests that need a connection configured like the live one.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d", path, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to ":memory:" is its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func (s *SQLiteDatabase) open() error {
	db, err := OpenConnection(s.path)
	if err != nil {
		return err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return fmt.Errorf("migrating database: %w", err)
	}
	s.db = db
	s.opened = nil
	if s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			s.opened = info
		}
	}
	return nil
}

// replaced reports whether the file at path is no longer the one the pool
// was opened on. Callers hold mu.
func (s *SQLiteDatabase) replaced() bool {
	if s.db == nil || s.opened == nil {
		return false
	}
	cur, err := os.Stat(s.path)
	if err != nil {
		// Missing mid-swap; keep the pool until a file is back in place.
		return false
	}
	return !os.SameFile(s.opened, cur)
}

// reopenIfReplaced reopens the pool when another handle has swapped a
// different file in at path, for example by restoring a snapshot.
func (s *SQLiteDatabase) reopenIfReplaced() error {
	s.mu.RLock()
	stale := s.replaced()
	s.mu.RUnlock()
	if !stale {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.replaced() {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("closing replaced database: %w", err)
	}
	if err := s.open(); err != nil {
		return fmt.Errorf("reopening replaced database: %w", err)
	}
	return nil
}

// conn returns the open pool, reopening it first if the file was replaced.
// The read lock is held until release is called.
func (s *SQLiteDatabase) conn() (*sql.DB, func(), error) {
	if err := s.reopenIfReplaced(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, nil, ErrReleased
	}
	return s.db, s.mu.RUnlock, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// IsOpen reports whether the handle currently holds a connection pool.
func (s *SQLiteDatabase) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// ConsistentCopyTo writes a transactionally consistent copy of the database
// to destPath using VACUUM INTO. destPath must not exist. A busy database is
// retried with a short backoff. If another handle has replaced the file at
// Path, the pool is reopened first so the copy is of the current file.
func (s *SQLiteDatabase) ConsistentCopyTo(ctx context.Context, destPath string) error {
	const (
		maxAttempts = 3
		baseBackoff = 200 * time.Millisecond
	)

	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := db.ExecContext(ctx, "VACUUM INTO ?", destPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusy(err) {
			return fmt.Errorf("copying database: %w", err)
		}

		select {
		case <-time.After(baseBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("copying database: still busy after %d attempts: %w", maxAttempts, lastErr)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// Release closes every pooled connection so the file can be replaced.
// Queries fail with ErrReleased until Reopen. Releasing twice is a no-op.
func (s *SQLiteDatabase) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Reopen opens the file at Path again, migrating it if needed. Reopening an
// open handle is a no-op.
func (s *SQLiteDatabase) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	return s.open()
}

// Lesson operations

// AddLesson inserts a lesson. ID and timestamps are filled in when empty.
func (s *SQLiteDatabase) AddLesson(lesson *model.Lesson) error {
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()

	now := time.Now()
	if lesson.ID == "" {
		lesson.ID = uuid.New().String()
	}
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now
	if lesson.Category == "" {
		lesson.Category = model.CategoryLesson
	}
	if lesson.Status == "" {
		lesson.Status = model.StatusPending
	}

	_, err = db.ExecContext(context.Background(), `
		INSERT INTO lessons (id, date, title, category, duration_minutes, hourly_rate_cents, value_cents, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lesson.ID, lesson.Date, lesson.Title, lesson.Category, lesson.DurationMinutes,
		lesson.HourlyRateCents, lesson.ValueCents, lesson.Status, lesson.CreatedAt, lesson.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting lesson: %w", err)
	}
	return nil
}

const lessonColumns = `id, date, title, category, duration_minutes, hourly_rate_cents, value_cents, status, created_at, updated_at`

// FindLesson returns the lesson with the given ID, or nil if there is none.
func (s *SQLiteDatabase) FindLesson(id string) (*model.Lesson, error) {
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	row := db.QueryRowContext(context.Background(), `SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id)
	lesson, err := scanLesson(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding lesson: %w", err)
	}
	return lesson, nil
}

// ListLessons returns up to limit lessons, most recent date first.
// A limit of 0 or less returns all lessons.
func (s *SQLiteDatabase) ListLessons(limit int) ([]*model.Lesson, error) {
	db, release, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(context.Background(),
		`SELECT `+lessonColumns+` FROM lessons ORDER BY date DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing lessons: %w", err)
	}
	defer rows.Close()

	var lessons []*model.Lesson
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lesson: %w", err)
		}
		lessons = append(lessons, lesson)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing lessons: %w", err)
	}
	return lessons, nil
}

// CountLessons returns the number of stored lessons.
func (s *SQLiteDatabase) CountLessons() (int64, error) {
	db, release, err := s.conn()
	if err != nil {
		return 0, err
	}
	defer release()

	var n int64
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM lessons`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting lessons: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLesson(row rowScanner) (*model.Lesson, error) {
	var l model.Lesson
	err := row.Scan(&l.ID, &l.Date, &l.Title, &l.Category, &l.DurationMinutes,
		&l.HourlyRateCents, &l.ValueCents, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Maintenance

// IntegrityCheck runs PRAGMA integrity_check and returns an error listing the
// problems it reports.
func (s *SQLiteDatabase) IntegrityCheck() error {
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()
	return integrityCheck(db)
}

func integrityCheck(db *sql.DB) error {
	rows, err := db.QueryContext(context.Background(), "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("reading integrity check: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("integrity check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	db, release, err := s.conn()
	if err != nil {
		return err
	}
	defer release()
	return migrations.CheckDBMigrationStatus(db)
}

// VerifySnapshot opens the database file at path read-only and checks that
// it is intact and carries a schema this binary understands.
func VerifySnapshot(path string) error {
	dsn, err := readOnlyURI(path)
	if err != nil {
		return err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer db.Close()

	if err := integrityCheck(db); err != nil {
		return err
	}
	if err := migrations.CheckSchemaVersion(db); err != nil {
		return fmt.Errorf("checking snapshot schema: %w", err)
	}
	return nil
}

// readOnlyURI builds a read-only SQLite URI filename for path, escaping
// characters such as '?', '#' and '%' that would otherwise end the path.
func readOnlyURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving snapshot path: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String(), nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	return s.Release()
}

// Compile-time check that SQLiteDatabase implements backup.DatabaseHandle interface
var _ backup.DatabaseHandle = (*SQLiteDatabase)(nil)
