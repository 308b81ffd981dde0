package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// RollbackPath returns the path the live database is moved to while a
// restore swaps files.
func RollbackPath(livePath string) string {
	return livePath + ".old"
}

// incomingPath is where the restore source is copied before it is renamed
// over the live path, so the live path never holds a partial file.
func incomingPath(livePath string) string {
	return livePath + ".restore"
}

// RestoreSnapshot replaces the live database with the file at sourcePath.
//
// The sequence is: safety snapshot, handle release, swap, verify, restart
// request. A failure after the live file has been moved aside rolls it back.
// Once the safety snapshot exists the restore runs to completion or rollback;
// ctx is no longer consulted.
func (m *Manager) RestoreSnapshot(ctx context.Context, sourcePath string) error {
	if !m.restoreMu.TryLock() {
		return ErrRestoreInProgress
	}
	defer m.restoreMu.Unlock()

	src, err := filepath.Abs(sourcePath)
	if err != nil {
		return fmt.Errorf("resolving restore source: %w", err)
	}
	m.logger.Info("restore started", "source", src)

	info, err := m.fs.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
		return fmt.Errorf("stat restore source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file: %s", ErrSourceNotFound, src)
	}
	if err := m.checkSourceConflict(src, info); err != nil {
		return err
	}

	// The safety snapshot's retention run must not delete the source.
	m.store.Pin(src)
	defer m.store.Unpin(src)

	if err := ctx.Err(); err != nil {
		return err
	}

	safety, err := m.CreateSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("safety snapshot: %w", err)
	}
	m.logger.Info("safety snapshot taken", "path", safety.Path)

	m.logger.Debug("releasing database handles")
	if err := m.db.Release(); err != nil {
		return fmt.Errorf("%w: %w", ErrHandleRelease, err)
	}

	live := m.db.Path()
	moved, err := m.swap(src, live)
	if err == nil {
		err = m.verify(live)
	}
	if err != nil {
		swapErr := fmt.Errorf("%w: %w", ErrSwapFailed, err)
		if !moved {
			m.logger.Error("restore failed before the live database was touched", "error", err)
			return swapErr
		}

		m.logger.Error("restore failed, rolling back", "error", err)
		if rbErr := m.rollback(live); rbErr != nil {
			m.logger.Error("ROLLBACK FAILED: live database may be missing or partial, recover it manually",
				"rollback_path", RollbackPath(live), "live", live, "error", rbErr)
			return &RollbackError{RollbackPath: RollbackPath(live), SwapErr: swapErr, Err: rbErr}
		}
		m.logger.Info("rollback complete, previous database restored", "live", live)
		return swapErr
	}

	if err := m.fs.Remove(RollbackPath(live)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("could not remove rollback file", "path", RollbackPath(live), "error", err)
	}

	m.logger.Info("restore complete, requesting restart", "source", src)
	if m.restarter != nil {
		m.restarter.RequestRestart()
	}
	return nil
}

// checkSourceConflict rejects a source the swap would delete or overwrite:
// the live file itself, the rollback file or the incoming file.
func (m *Manager) checkSourceConflict(src string, srcInfo fs.FileInfo) error {
	live, err := filepath.Abs(m.db.Path())
	if err != nil {
		return fmt.Errorf("resolving live database path: %w", err)
	}
	for _, p := range []string{live, RollbackPath(live), incomingPath(live)} {
		if filepath.Clean(src) == filepath.Clean(p) {
			return fmt.Errorf("%w: %s", ErrSourceConflict, src)
		}
	}
	if liveInfo, err := m.fs.Stat(live); err == nil && os.SameFile(srcInfo, liveInfo) {
		return fmt.Errorf("%w: %s", ErrSourceConflict, src)
	}
	return nil
}

// swap copies src next to the live file, moves the live file aside and renames
// the copy into its place. The source is read completely before anything is
// renamed. moved reports whether the live file was renamed, i.e. whether a
// rollback is needed.
func (m *Manager) swap(src, live string) (moved bool, err error) {
	old := RollbackPath(live)
	incoming := incomingPath(live)

	if err := m.fs.Remove(incoming); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("removing stale incoming file: %w", err)
	}
	if err := m.fs.CopyFile(src, incoming); err != nil {
		m.removeQuietly(incoming)
		return false, fmt.Errorf("copying restore source: %w", err)
	}

	if err := m.fs.Remove(old); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.removeQuietly(incoming)
		return false, fmt.Errorf("removing stale rollback file: %w", err)
	}
	if err := m.fs.Rename(live, old); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.removeQuietly(incoming)
			return false, fmt.Errorf("moving live database aside: %w", err)
		}
		// The live file vanished after the safety snapshot; nothing to roll back to.
		m.logger.Warn("live database disappeared before swap", "live", live)
	} else {
		moved = true
	}

	if err := m.fs.Rename(incoming, live); err != nil {
		m.removeQuietly(incoming)
		return moved, fmt.Errorf("moving restored database into place: %w", err)
	}
	return moved, nil
}

// verify is a minimal check; the database engine reports corruption on open.
func (m *Manager) verify(live string) error {
	info, err := m.fs.Stat(live)
	if err != nil {
		return fmt.Errorf("verifying restored database: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("restored database is empty")
	}
	return nil
}

// rollback puts the moved-aside live database back.
func (m *Manager) rollback(live string) error {
	m.removeQuietly(incomingPath(live))
	if err := m.fs.Remove(live); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing failed restore: %w", err)
	}
	if err := m.fs.Rename(RollbackPath(live), live); err != nil {
		return fmt.Errorf("moving previous database back: %w", err)
	}
	return nil
}

func (m *Manager) removeQuietly(path string) {
	if err := m.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("could not remove temporary file", "path", path, "error", err)
	}
}
