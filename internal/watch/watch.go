package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"lessonlog/internal/backup"
)

// Snapshotter takes a snapshot of the live database.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context) (*backup.Snapshot, error)
}

// Watcher takes a snapshot whenever the live database has been written to
// and then left alone for the debounce interval.
//
// The directory holding the database is watched rather than the file itself,
// so the watch survives the file being replaced by a restore.
type Watcher struct {
	fsw      *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	snap     Snapshotter
	logger   backup.Logger
}

// New starts watching livePath. Events are queued from this point on, even
// before Run is called.
func New(livePath string, debounce time.Duration, snap Snapshotter, logger backup.Logger) (*Watcher, error) {
	if debounce <= 0 {
		return nil, fmt.Errorf("debounce must be positive, got %v", debounce)
	}
	live, err := filepath.Abs(livePath)
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(live)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(live), err)
	}

	return &Watcher{
		fsw: fsw,
		// SQLite writes through its journal files as well as the main file.
		files: map[string]bool{
			live:              true,
			live + "-journal": true,
			live + "-wal":     true,
		},
		debounce: debounce,
		snap:     snap,
		logger:   logger,
	}, nil
}

// Run processes events until ctx is cancelled. Changes still waiting for
// their debounce interval get one last snapshot before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if pending {
				w.logger.Info("flushing pending changes before stopping")
				w.snapshot(context.WithoutCancel(ctx))
			}
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("database changed", "file", event.Name, "op", event.Op.String())
			pending = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			pending = false
			w.snapshot(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !w.files[filepath.Clean(event.Name)] {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)
}

func (w *Watcher) snapshot(ctx context.Context) {
	snap, err := w.snap.CreateSnapshot(ctx)
	if err != nil {
		w.logger.Error("watch snapshot failed", "error", err)
		return
	}
	w.logger.Info("watch snapshot taken", "path", snap.Path)
}

// Close stops watching. Run returns once its event channel is closed.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
