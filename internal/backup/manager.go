package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"
)

// DefaultMaxBackups is the retention limit used when none is configured.
const DefaultMaxBackups = 50

// Options configures a Manager.
type Options struct {
	// StoreDir is the snapshot directory, usually <app-data>/backups.
	StoreDir string
	// DBName prefixes every snapshot name.
	DBName string
	// MaxBackups is the number of snapshots retention keeps. Zero means
	// DefaultMaxBackups.
	MaxBackups int
	// Mirror optionally receives a copy of every new snapshot.
	Mirror Mirror
}

// Manager is the backup subsystem: it creates, lists, prunes, replicates and
// restores snapshots of one live database. Build one at startup and pass it
// to every consumer.
type Manager struct {
	db        DatabaseHandle
	fs        Filesystem
	store     *SnapshotStore
	retention *Retention
	restarter Restarter
	logger    Logger
	clock     Clock

	mu         sync.RWMutex
	maxBackups int
	mirror     Mirror

	// snapMu serializes name allocation with the copy that fills the name.
	snapMu sync.Mutex
	// restoreMu admits one restore at a time.
	restoreMu sync.Mutex

	bg sync.WaitGroup
}

// NewManager creates a Manager with the provided dependencies.
func NewManager(db DatabaseHandle, fsys Filesystem, restarter Restarter, logger Logger, clock Clock, opts Options) (*Manager, error) {
	if opts.StoreDir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if opts.DBName == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = DefaultMaxBackups
	}
	if opts.MaxBackups < 1 {
		return nil, fmt.Errorf("max backups must be at least 1, got %d", opts.MaxBackups)
	}

	store := NewSnapshotStore(opts.StoreDir, opts.DBName, fsys)
	return &Manager{
		db:         db,
		fs:         fsys,
		store:      store,
		retention:  NewRetention(store, logger),
		restarter:  restarter,
		logger:     logger,
		clock:      clock,
		maxBackups: opts.MaxBackups,
		mirror:     opts.Mirror,
	}, nil
}

// Store returns the snapshot store.
func (m *Manager) Store() *SnapshotStore {
	return m.store
}

// MaxBackups returns the current retention limit.
func (m *Manager) MaxBackups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxBackups
}

// SetMaxBackups changes the retention limit for subsequent prunes.
func (m *Manager) SetMaxBackups(n int) error {
	if n < 1 {
		return fmt.Errorf("max backups must be at least 1, got %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxBackups = n
	return nil
}

// SetMirror replaces the external mirror. nil disables replication.
func (m *Manager) SetMirror(mirror Mirror) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirror = mirror
}

func (m *Manager) currentMirror() Mirror {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mirror
}

// CreateSnapshot writes a consistent copy of the live database into the
// store. On success, pruning and replication are started in the background;
// their outcome never changes the result of this call.
func (m *Manager) CreateSnapshot(ctx context.Context) (*Snapshot, error) {
	snap, err := m.writeSnapshot(ctx)
	if err != nil {
		m.logger.Error("snapshot failed", "error", err)
		return nil, err
	}

	m.logger.Info("snapshot created", "path", snap.Path, "size", snap.Size)
	m.dispatchFollowUps(ctx, snap)
	return snap, nil
}

func (m *Manager) writeSnapshot(ctx context.Context) (*Snapshot, error) {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()

	live := m.db.Path()
	m.logger.Debug("creating snapshot", "database", live)

	if _, err := m.fs.Stat(live); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseMissing, live)
		}
		return nil, fmt.Errorf("%w: stat live database: %w", ErrConsistentCopyFailed, err)
	}

	dest, err := m.store.Allocate(m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConsistentCopyFailed, err)
	}

	if err := m.db.ConsistentCopyTo(ctx, dest); err != nil {
		if rmErr := m.fs.Remove(dest); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			m.logger.Warn("could not remove partial snapshot", "path", dest, "error", rmErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrConsistentCopyFailed, err)
	}

	snap, err := m.store.Snapshot(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConsistentCopyFailed, err)
	}
	return snap, nil
}

// dispatchFollowUps starts retention and replication as independent jobs.
func (m *Manager) dispatchFollowUps(ctx context.Context, snap *Snapshot) {
	bgCtx := context.WithoutCancel(ctx)
	maxBackups := m.MaxBackups()

	m.goBackground("retention", func() {
		if _, err := m.retention.Prune(maxBackups); err != nil {
			m.logger.Error("retention prune failed", "dir", m.store.Dir(), "error", err)
		}
	})

	if mirror := m.currentMirror(); mirror != nil {
		replicator := NewReplicator(mirror, m.fs, m.logger)
		m.goBackground("replication", func() {
			replicator.Replicate(bgCtx, snap)
		})
	}
}

// goBackground runs fn detached from the caller. A panic in fn is logged
// instead of taking the host down.
func (m *Manager) goBackground(task string, fn func()) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("background task panicked", "task", task, "panic", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until all background jobs started so far have finished.
// Hosts call it on shutdown; snapshot callers never need to.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// ListSnapshots returns all snapshots, newest first.
func (m *Manager) ListSnapshots() ([]*Snapshot, error) {
	snapshots, err := m.store.List()
	if err != nil {
		return nil, err
	}
	m.logger.Debug("snapshots listed", "count", len(snapshots))
	return snapshots, nil
}

// Prune applies the retention limit synchronously and returns the number of
// snapshots deleted.
func (m *Manager) Prune() (int, error) {
	return m.retention.Prune(m.MaxBackups())
}

// DatabaseInfo describes the live database file.
type DatabaseInfo struct {
	Path       string
	Exists     bool
	Size       int64
	ModifiedAt time.Time
}

// DatabaseInfo returns the size and modification time of the live database.
func (m *Manager) DatabaseInfo() (*DatabaseInfo, error) {
	live := m.db.Path()
	info, err := m.fs.Stat(live)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &DatabaseInfo{Path: live}, nil
		}
		return nil, fmt.Errorf("stat live database: %w", err)
	}
	return &DatabaseInfo{
		Path:       live,
		Exists:     true,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	}, nil
}
