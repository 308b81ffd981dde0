package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lessonlog/internal/backup"
	"lessonlog/internal/config"
	"lessonlog/internal/database"
	"lessonlog/internal/encryption"
	"lessonlog/internal/fs"
	"lessonlog/internal/mirror"
	"lessonlog/internal/model"
	"lessonlog/internal/watch"
)

// LessonApp is the application layer between the CLI and the lesson
// database. It constructs all dependencies from config, exposes high-level
// operations, and manages the database lifecycle on Close.
type LessonApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	encryptor backup.Encryptor
	mirror    backup.Mirror
	manager   *backup.Manager
	op        *Operation
	logger    backup.Logger
	logFile   *os.File

	mu         sync.Mutex
	restarts   int
	restartErr error
}

// NewLessonApp creates a fully wired LessonApp from the given config.
// For mutating operations a startup snapshot is taken before returning.
// The caller must call Close when done.
func NewLessonApp(ctx context.Context, cfg *config.Config, op *Operation) (*LessonApp, error) {
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With(slog.String("op", op.Name))}

	db, err := database.NewDatabaseFromConfig(cfg)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	m, err := mirror.NewMirrorFromConfig(ctx, cfg.Backup.Mirror, enc)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating mirror: %w", err)
	}

	a := &LessonApp{
		cfg:       cfg,
		db:        db,
		encryptor: enc,
		mirror:    m,
		op:        op,
		logger:    logger,
		logFile:   logFile,
	}

	a.manager, err = backup.NewManager(db, fs.NewOSFilesystem(), a, logger, backup.RealClock{}, backup.Options{
		StoreDir:   cfg.BackupDir(),
		DBName:     cfg.DBName,
		MaxBackups: cfg.Backup.MaxBackups,
		Mirror:     m,
	})
	if err != nil {
		a.closeMirror()
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating backup manager: %w", err)
	}

	logger.Debug("application started", "database", db.Path(), "mutating", op.Mutating)

	if op.Mutating && !cfg.Backup.DisableStartupSnapshot {
		// The error is already logged by the manager; the command still runs.
		if _, err := a.manager.CreateSnapshot(ctx); err != nil {
			logger.Warn("startup snapshot failed, continuing without it", "error", err)
		}
	}

	return a, nil
}

// RequestRestart relaunches the data layer after a successful restore by
// reopening the database handle on the restored file.
func (a *LessonApp) RequestRestart() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.restarts++
	a.logger.Info("reopening database after restore", "database", a.db.Path())
	if err := a.db.Reopen(); err != nil {
		a.restartErr = err
		a.logger.Error("restored database could not be opened", "database", a.db.Path(), "error", err)
	}
}

// LessonInput holds the fields a user supplies for a new lesson.
type LessonInput struct {
	Title    string
	Category string // model.CategoryLesson when empty
	Date     time.Time
	Minutes  int
	// ValueCents is the billed amount for categories other than lessons,
	// which are valued from their duration instead.
	ValueCents int64
}

// AddLesson records a lesson. Lessons are valued at the configured hourly
// rate for their duration, rounded down to the cent.
func (a *LessonApp) AddLesson(in LessonInput) (*model.Lesson, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	if in.Minutes < 0 {
		return nil, fmt.Errorf("duration must not be negative")
	}

	category := in.Category
	if category == "" {
		category = model.CategoryLesson
	}

	lesson := &model.Lesson{
		Title:           strings.TrimSpace(in.Title),
		Category:        category,
		Date:            in.Date,
		DurationMinutes: in.Minutes,
		HourlyRateCents: a.cfg.Billing.HourlyRateCents,
	}
	if category == model.CategoryLesson {
		lesson.ValueCents = int64(in.Minutes) * a.cfg.Billing.HourlyRateCents / 60
	} else {
		lesson.ValueCents = in.ValueCents
	}

	if err := a.db.AddLesson(lesson); err != nil {
		return nil, err
	}
	a.logger.Info("lesson added", "id", lesson.ID, "value_cents", lesson.ValueCents)
	return lesson, nil
}

// ListLessons returns up to limit lessons, most recent first.
func (a *LessonApp) ListLessons(limit int) ([]*model.Lesson, error) {
	return a.db.ListLessons(limit)
}

// CreateSnapshot takes a snapshot of the live database.
func (a *LessonApp) CreateSnapshot(ctx context.Context) (*backup.Snapshot, error) {
	return a.manager.CreateSnapshot(ctx)
}

// ListSnapshots returns all snapshots, newest first.
func (a *LessonApp) ListSnapshots() ([]*backup.Snapshot, error) {
	return a.manager.ListSnapshots()
}

// Prune applies the retention limit now.
func (a *LessonApp) Prune() (int, error) {
	return a.manager.Prune()
}

// Info summarizes the live database and its snapshots.
type Info struct {
	Database    *backup.DatabaseInfo
	Lessons     int64
	Snapshots   int
	MaxBackups  int
	SnapshotDir string
	Mirror      string
}

// Info describes the live database, the snapshot store and the mirror.
func (a *LessonApp) Info() (*Info, error) {
	dbInfo, err := a.manager.DatabaseInfo()
	if err != nil {
		return nil, err
	}
	count, err := a.db.CountLessons()
	if err != nil {
		return nil, err
	}
	snapshots, err := a.manager.ListSnapshots()
	if err != nil {
		return nil, err
	}

	info := &Info{
		Database:    dbInfo,
		Lessons:     count,
		Snapshots:   len(snapshots),
		MaxBackups:  a.manager.MaxBackups(),
		SnapshotDir: a.manager.Store().Dir(),
	}
	if a.mirror != nil {
		info.Mirror = a.mirror.Name()
	}
	return info, nil
}

// RestoreSnapshot replaces the live database with the file at path and
// reopens it. Unless force is set, the file must pass VerifySnapshot first.
//
// When the restore fails and was rolled back, the previous database is
// reopened. A *backup.RollbackError leaves the handle closed: the live path
// may not hold a usable database.
func (a *LessonApp) RestoreSnapshot(ctx context.Context, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			if err := database.VerifySnapshot(path); err != nil {
				return fmt.Errorf("refusing to restore %s (use --force to override): %w", path, err)
			}
		}
	}

	a.mu.Lock()
	a.restartErr = nil
	a.mu.Unlock()

	err := a.manager.RestoreSnapshot(ctx, path)
	if err != nil {
		if errors.Is(err, backup.ErrRollbackFailed) {
			return err
		}
		if !a.db.IsOpen() {
			if reopenErr := a.db.Reopen(); reopenErr != nil {
				a.logger.Error("could not reopen database after failed restore", "error", reopenErr)
				return errors.Join(err, fmt.Errorf("reopening database: %w", reopenErr))
			}
		}
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.restartErr != nil {
		return fmt.Errorf("restored database could not be opened: %w", a.restartErr)
	}
	return nil
}

// VerifySnapshot checks the integrity and schema of the snapshot at path.
// An empty path checks the live database.
func (a *LessonApp) VerifySnapshot(path string) error {
	if path == "" {
		if err := a.db.IntegrityCheck(); err != nil {
			return err
		}
		return a.db.CheckMigrations()
	}
	return database.VerifySnapshot(path)
}

// Watch takes a snapshot after every settled change to the live database
// until ctx is cancelled.
func (a *LessonApp) Watch(ctx context.Context) error {
	w, err := watch.New(a.db.Path(), a.cfg.WatchDebounce(), a.manager, a.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	a.logger.Info("watching database", "database", a.db.Path(), "debounce", a.cfg.WatchDebounce())
	return w.Run(ctx)
}

// DecryptMirrorCopy decrypts an encrypted mirror object at src into a new
// file at dst, which can then be restored. dst must not exist.
func (a *LessonApp) DecryptMirrorCopy(src, dst, passphrase string) error {
	return DecryptFile(a.encryptor, src, dst, passphrase)
}

// DecryptFile decrypts src into a new file at dst using the private key
// unlocked with passphrase. A failed decryption leaves no file at dst.
func DecryptFile(enc backup.Encryptor, src, dst, passphrase string) (err error) {
	if !enc.IsConfigured() {
		return fmt.Errorf("encryption is not set up")
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening encrypted copy: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing output file: %w", cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if err := dc.Decrypt(in, out); err != nil {
		return fmt.Errorf("decrypting %s: %w", src, err)
	}
	return out.Sync()
}

// SetMirror validates mc, persists it to the config file at configPath and
// switches the running manager to the new mirror.
func (a *LessonApp) SetMirror(ctx context.Context, configPath string, mc config.MirrorConfig) error {
	if err := mc.Validate(); err != nil {
		return fmt.Errorf("invalid mirror: %w", err)
	}
	m, err := mirror.NewMirrorFromConfig(ctx, mc, a.encryptor)
	if err != nil {
		return fmt.Errorf("creating mirror: %w", err)
	}

	updated := *a.cfg
	updated.Backup.Mirror = mc
	if err := config.Save(configPath, &updated); err != nil {
		if c, ok := m.(io.Closer); ok {
			c.Close()
		}
		return err
	}

	a.manager.SetMirror(m)
	// Replications already started still hold the old mirror.
	a.manager.Wait()
	a.closeMirror()
	a.cfg.Backup.Mirror = mc
	a.mirror = m
	a.logger.Info("mirror changed", "type", mc.Type)
	return nil
}

func (a *LessonApp) closeMirror() {
	if c, ok := a.mirror.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing mirror", "error", err)
		}
	}
}

// Close waits for background snapshot work, then closes all resources.
func (a *LessonApp) Close() error {
	a.manager.Wait()
	a.closeMirror()

	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Debug("application finished", "elapsed", time.Since(a.op.StartedAt))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
