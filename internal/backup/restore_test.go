package backup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lessonlog/internal/backup"
)

const restoredContent = "restored database v2"

func (f *fixture) writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(f.dir, "picked.db")
	if err := os.WriteFile(path, []byte(restoredContent), 0600); err != nil {
		t.Fatalf("writing restore source: %v", err)
	}
	return path
}

// assertUntouched checks that a failed restore left the live database as it
// was and did not request a restart.
func (f *fixture) assertUntouched(t *testing.T) {
	t.Helper()
	if got := f.readLive(t); got != "live database v1" {
		t.Errorf("live database = %q, want original content", got)
	}
	assertNotExist(t, backup.RollbackPath(f.live))
	assertNotExist(t, f.live+".restore")
	if f.restarter.Count() != 0 {
		t.Errorf("restart requested %d times, want 0", f.restarter.Count())
	}
}

func TestManager_RestoreSnapshot(t *testing.T) {
	f := newFixture(t, backup.Options{})
	src := f.writeSource(t)

	if err := f.mgr.RestoreSnapshot(context.Background(), src); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}

	if got := f.readLive(t); got != restoredContent {
		t.Errorf("live database = %q, want %q", got, restoredContent)
	}
	if f.restarter.Count() != 1 {
		t.Errorf("restart requested %d times, want 1", f.restarter.Count())
	}
	if f.db.Releases() != 1 {
		t.Errorf("Release called %d times, want 1", f.db.Releases())
	}
	assertNotExist(t, backup.RollbackPath(f.live))
	assertNotExist(t, f.live+".restore")

	f.mgr.Wait()
	list, err := f.mgr.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("store has %d snapshots, want the safety snapshot", len(list))
	}
	safety, err := os.ReadFile(list[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(safety) != "live database v1" {
		t.Errorf("safety snapshot = %q, want the pre-restore database", safety)
	}

	if data, _ := os.ReadFile(src); string(data) != restoredContent {
		t.Error("restore source was modified")
	}
}

func TestManager_RestoreSnapshot_FromStore(t *testing.T) {
	f := newFixture(t, backup.Options{})

	snap, err := f.mgr.CreateSnapshot(context.Background())
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	f.writeLive(t, "live database after more lessons")
	f.clock.Advance(time.Hour)

	if err := f.mgr.RestoreSnapshot(context.Background(), snap.Path); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if got := f.readLive(t); got != "live database v1" {
		t.Errorf("live database = %q, want snapshot content", got)
	}
}

func TestManager_RestoreSnapshot_RelativePath(t *testing.T) {
	f := newFixture(t, backup.Options{})
	src := f.writeSource(t)
	t.Chdir(f.dir)

	if err := f.mgr.RestoreSnapshot(context.Background(), filepath.Base(src)); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if got := f.readLive(t); got != restoredContent {
		t.Errorf("live database = %q, want %q", got, restoredContent)
	}
}

func TestManager_RestoreSnapshot_SourceNotFound(t *testing.T) {
	tests := []struct {
		name   string
		source func(f *fixture) string
	}{
		{name: "missing file", source: func(f *fixture) string { return filepath.Join(f.dir, "nope.db") }},
		{name: "directory", source: func(f *fixture) string { return f.dir }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, backup.Options{})
			past := time.Now().Add(-time.Hour).Truncate(time.Second)
			if err := os.Chtimes(f.live, past, past); err != nil {
				t.Fatal(err)
			}

			err := f.mgr.RestoreSnapshot(context.Background(), tt.source(f))
			if !errors.Is(err, backup.ErrSourceNotFound) {
				t.Fatalf("RestoreSnapshot() error = %v, want ErrSourceNotFound", err)
			}

			info, err := os.Stat(f.live)
			if err != nil {
				t.Fatalf("live database missing: %v", err)
			}
			if !info.ModTime().Equal(past) || info.Size() != int64(len("live database v1")) {
				t.Errorf("live database changed: size %d, mtime %v", info.Size(), info.ModTime())
			}
			if f.db.Releases() != 0 {
				t.Errorf("Release called %d times, want 0", f.db.Releases())
			}
			if files := f.storeFiles(t); len(files) != 0 {
				t.Errorf("safety snapshot taken for a missing source: %v", files)
			}
			f.assertUntouched(t)
		})
	}
}

func TestManager_RestoreSnapshot_SafetySnapshotFails(t *testing.T) {
	t.Run("copy error", func(t *testing.T) {
		f := newFixture(t, backup.Options{})
		f.db.SetCopyError(errors.New("disk full"))

		err := f.mgr.RestoreSnapshot(context.Background(), f.writeSource(t))
		if !errors.Is(err, backup.ErrConsistentCopyFailed) {
			t.Fatalf("RestoreSnapshot() error = %v, want ErrConsistentCopyFailed", err)
		}
		if f.db.Releases() != 0 {
			t.Errorf("Release called %d times, want 0", f.db.Releases())
		}
		f.assertUntouched(t)
	})

	t.Run("live database missing", func(t *testing.T) {
		f := newFixture(t, backup.Options{})
		if err := os.Remove(f.live); err != nil {
			t.Fatal(err)
		}

		err := f.mgr.RestoreSnapshot(context.Background(), f.writeSource(t))
		if !errors.Is(err, backup.ErrDatabaseMissing) {
			t.Fatalf("RestoreSnapshot() error = %v, want ErrDatabaseMissing", err)
		}
		assertNotExist(t, f.live)
		if f.restarter.Count() != 0 {
			t.Error("restart requested after aborted restore")
		}
	})
}

func TestManager_RestoreSnapshot_ReleaseFails(t *testing.T) {
	f := newFixture(t, backup.Options{})
	f.db.SetReleaseError(errors.New("database is locked"))

	err := f.mgr.RestoreSnapshot(context.Background(), f.writeSource(t))
	if !errors.Is(err, backup.ErrHandleRelease) {
		t.Fatalf("RestoreSnapshot() error = %v, want ErrHandleRelease", err)
	}
	f.assertUntouched(t)
}

func TestManager_RestoreSnapshot_CopyInFails(t *testing.T) {
	f := newFixture(t, backup.Options{})
	before := f.readLive(t)
	f.fs.FailCopy(func(src, dst string) error {
		return errors.New("input/output error")
	})

	err := f.mgr.RestoreSnapshot(context.Background(), f.writeSource(t))
	if !errors.Is(err, backup.ErrSwapFailed) {
		t.Fatalf("RestoreSnapshot() error = %v, want ErrSwapFailed", err)
	}
	if errors.Is(err, backup.ErrRollbackFailed) {
		t.Error("error reports a failed rollback, want none")
	}
	if got := f.readLive(t); got != before {
		t.Errorf("live database = %q after failed copy, want %q", got, before)
	}
	f.assertUntouched(t)
	// The source is copied before the live file moves, so nothing needs rolling back.
	if _, ok := f.logger.Find("INFO", "rollback complete"); ok {
		t.Error("rollback ran although the live database never moved")
	}
}

func TestManager_RestoreSnapshot_MoveIntoPlaceFails(t *testing.T) {
	f := newFixture(t, backup.Options{})
	f.fs.FailRename(func(oldPath, newPath string) error {
		if oldPath == f.live+".restore" {
			return errors.New("cross-device link")
		}
		return nil
	})

	err := f.mgr.RestoreSnapshot(context.Background(), f.writeSource(t))
	if !errors.Is(err, backup.ErrSwapFailed) {
		t.Fatalf("RestoreSnapshot() error = %v, want ErrSwapFailed", err)
	}
	f.assertUntouched(t)
	if _, ok := f.logger.Find("INFO", "rollback complete"); !ok {
		t.Error("rollback was not logged")
	}
}

func TestManager_RestoreSnapshot_MoveAsideFails(t *testing.T) {
	f := newFixture(t, backup.Options{})
	f.fs.FailRename(func(oldPath, newPath string) error {
		if oldPath == f.live {
			return errors.New("permission denied")
		}
		return nil
	})

	err := f.mgr.RestoreSnapshot(context.Background(), f.writeSource(t))
	if !errors.Is(err, backup.ErrSwapFailed) {
		t.Fatalf("RestoreSnapshot() error = %v, want ErrSwapFailed", err)
	}
	if _, ok := f.logger.Find("INFO", "rollback complete"); ok {
		t.Error("rollback ran although the live database never moved")
	}
	f.assertUntouched(t)
}

func TestManager_RestoreSnapshot_StaleRollbackFile(t *testing.T) {
	f := newFixture(t, backup.Options{})
	old := backup.RollbackPath(f.live)
	if err := os.WriteFile(old, []byte("left over from a crash"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := f.mgr.RestoreSnapshot(context.Background(), f.writeSource(t)); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if got := f.readLive(t); got != restoredContent {
		t.Errorf("live database = %q, want %q", got, restoredContent)
	}
	assertNotExist(t, old)
}

func TestManager_RestoreSnapshot_RollbackFails(t *testing.T) {
	f := newFixture(t, backup.Options{})
	old := backup.RollbackPath(f.live)
	f.fs.FailRename(func(oldPath, newPath string) error {
		switch oldPath {
		case f.live + ".restore":
			return errors.New("cross-device link")
		case old:
			return errors.New("device removed")
		}
		return nil
	})

	err := f.mgr.RestoreSnapshot(context.Background(), f.writeSource(t))
	if !errors.Is(err, backup.ErrRollbackFailed) {
		t.Fatalf("RestoreSnapshot() error = %v, want ErrRollbackFailed", err)
	}
	var rbErr *backup.RollbackError
	if !errors.As(err, &rbErr) {
		t.Fatalf("error %T is not a *RollbackError", err)
	}
	if rbErr.RollbackPath != old {
		t.Errorf("RollbackPath = %q, want %q", rbErr.RollbackPath, old)
	}

	data, readErr := os.ReadFile(old)
	if readErr != nil {
		t.Fatalf("rollback file missing: %v", readErr)
	}
	if string(data) != "live database v1" {
		t.Errorf("rollback file = %q, want the original database", data)
	}
	if f.restarter.Count() != 0 {
		t.Error("restart requested after failed rollback")
	}

	entry, ok := f.logger.Find("ERROR", "ROLLBACK FAILED")
	if !ok {
		t.Fatal("failed rollback was not logged")
	}
	if entry.Attr("rollback_path") != old {
		t.Errorf("logged rollback_path = %v, want %s", entry.Attr("rollback_path"), old)
	}
}

func TestManager_RestoreSnapshot_SourceConflict(t *testing.T) {
	tests := []struct {
		name   string
		source func(t *testing.T, f *fixture) string
	}{
		{name: "live database", source: func(t *testing.T, f *fixture) string { return f.live }},
		{name: "rollback file", source: func(t *testing.T, f *fixture) string {
			return backup.RollbackPath(f.live)
		}},
		{name: "incoming file", source: func(t *testing.T, f *fixture) string { return f.live + ".restore" }},
		{name: "symlink to live database", source: func(t *testing.T, f *fixture) string {
			link := filepath.Join(f.dir, "link.db")
			if err := os.Symlink(f.live, link); err != nil {
				t.Skipf("symlinks unavailable: %v", err)
			}
			return link
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, backup.Options{})
			for _, p := range []string{backup.RollbackPath(f.live), f.live + ".restore"} {
				if err := os.WriteFile(p, []byte("previous database"), 0600); err != nil {
					t.Fatal(err)
				}
			}
			src := tt.source(t, f)

			err := f.mgr.RestoreSnapshot(context.Background(), src)
			if !errors.Is(err, backup.ErrSourceConflict) {
				t.Fatalf("RestoreSnapshot(%s) error = %v, want ErrSourceConflict", src, err)
			}

			if got := f.readLive(t); got != "live database v1" {
				t.Errorf("live database = %q, want original content", got)
			}
			for _, p := range []string{backup.RollbackPath(f.live), f.live + ".restore"} {
				data, err := os.ReadFile(p)
				if err != nil {
					t.Fatalf("%s removed by a rejected restore: %v", filepath.Base(p), err)
				}
				if string(data) != "previous database" {
					t.Errorf("%s = %q, want it unchanged", filepath.Base(p), data)
				}
			}
			if f.db.Releases() != 0 {
				t.Errorf("Release called %d times, want 0", f.db.Releases())
			}
			if files := f.storeFiles(t); len(files) != 0 {
				t.Errorf("safety snapshot taken for a rejected source: %v", files)
			}
			if f.restarter.Count() != 0 {
				t.Errorf("restart requested %d times, want 0", f.restarter.Count())
			}
		})
	}
}

func TestManager_RestoreSnapshot_RecoveredRollbackFile(t *testing.T) {
	f := newFixture(t, backup.Options{})
	old := backup.RollbackPath(f.live)
	if err := os.WriteFile(old, []byte("previous database"), 0600); err != nil {
		t.Fatal(err)
	}

	// The rollback file must be copied elsewhere before it can be restored.
	kept := filepath.Join(f.dir, "recovered.db")
	if err := os.Rename(old, kept); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.RestoreSnapshot(context.Background(), kept); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if got := f.readLive(t); got != "previous database" {
		t.Errorf("live database = %q, want the recovered content", got)
	}
}

func TestManager_RestoreSnapshot_EmptySource(t *testing.T) {
	f := newFixture(t, backup.Options{})
	src := filepath.Join(f.dir, "empty.db")
	if err := os.WriteFile(src, nil, 0600); err != nil {
		t.Fatal(err)
	}

	err := f.mgr.RestoreSnapshot(context.Background(), src)
	if !errors.Is(err, backup.ErrSwapFailed) {
		t.Fatalf("RestoreSnapshot() error = %v, want ErrSwapFailed", err)
	}
	f.assertUntouched(t)
}

func TestManager_RestoreSnapshot_InProgress(t *testing.T) {
	f := newFixture(t, backup.Options{})
	src := f.writeSource(t)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	f.fs.FailCopy(func(src, dst string) error {
		close(entered)
		<-proceed
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- f.mgr.RestoreSnapshot(context.Background(), src)
	}()
	<-entered

	if err := f.mgr.RestoreSnapshot(context.Background(), src); !errors.Is(err, backup.ErrRestoreInProgress) {
		t.Errorf("concurrent RestoreSnapshot() error = %v, want ErrRestoreInProgress", err)
	}

	close(proceed)
	if err := <-done; err != nil {
		t.Fatalf("first RestoreSnapshot() error = %v", err)
	}
	if f.restarter.Count() != 1 {
		t.Errorf("restart requested %d times, want 1", f.restarter.Count())
	}
}

func TestManager_RestoreSnapshot_SourceSurvivesRetention(t *testing.T) {
	f := newFixture(t, backup.Options{MaxBackups: 1})

	snap, err := f.mgr.CreateSnapshot(context.Background())
	if err != nil {
		t.Fatalf("CreateSnapshot() error = %v", err)
	}
	f.mgr.Wait()
	f.writeLive(t, "live database after more lessons")
	f.clock.Advance(time.Minute)

	// Let the safety snapshot's prune finish before the source is copied.
	f.fs.FailCopy(func(src, dst string) error {
		f.mgr.Wait()
		return nil
	})

	if err := f.mgr.RestoreSnapshot(context.Background(), snap.Path); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if got := f.readLive(t); got != "live database v1" {
		t.Errorf("live database = %q, want snapshot content", got)
	}

	// Unpinned now, so the next prune may take it.
	if _, err := f.mgr.Prune(); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	assertNotExist(t, snap.Path)
}

func TestManager_RestoreSnapshot_Cancelled(t *testing.T) {
	f := newFixture(t, backup.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.mgr.RestoreSnapshot(ctx, f.writeSource(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RestoreSnapshot() error = %v, want context.Canceled", err)
	}
	if f.db.Releases() != 0 {
		t.Errorf("Release called %d times, want 0", f.db.Releases())
	}
	if files := f.storeFiles(t); len(files) != 0 {
		t.Errorf("store not empty: %v", files)
	}
	f.assertUntouched(t)
}
