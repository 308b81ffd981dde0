package backup_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lessonlog/internal/backup"
	"lessonlog/internal/testutil"
)

// seedSnapshots writes n snapshot files one minute apart, oldest first,
// ending one minute before now. It returns their paths oldest first.
func seedSnapshots(t *testing.T, store *backup.SnapshotStore, now time.Time, n int) []string {
	t.Helper()
	if err := os.MkdirAll(store.Dir(), 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		ts := now.Add(-time.Duration(n-i) * time.Minute)
		paths[i] = filepath.Join(store.Dir(), store.SnapshotName(ts, 0))
		if err := os.WriteFile(paths[i], []byte(ts.String()), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	return paths
}

func TestRetention_Prune(t *testing.T) {
	tests := []struct {
		name        string
		existing    int
		maxCount    int
		wantDeleted int
	}{
		{name: "under limit", existing: 3, maxCount: 5, wantDeleted: 0},
		{name: "at limit", existing: 5, maxCount: 5, wantDeleted: 0},
		{name: "over limit", existing: 8, maxCount: 5, wantDeleted: 3},
		{name: "keep one", existing: 4, maxCount: 1, wantDeleted: 3},
		{name: "empty store", existing: 0, maxCount: 1, wantDeleted: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := testutil.NewFaultFilesystem()
			store := backup.NewSnapshotStore(filepath.Join(t.TempDir(), "backups"), "lessons", fsys)
			paths := seedSnapshots(t, store, testutil.FixedClock().Now(), tt.existing)

			deleted, err := backup.NewRetention(store, backup.NewNopLogger()).Prune(tt.maxCount)
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("Prune() deleted %d, want %d", deleted, tt.wantDeleted)
			}

			for i, p := range paths {
				_, err := os.Stat(p)
				if gone := i < tt.wantDeleted; gone != os.IsNotExist(err) {
					t.Errorf("snapshot %d: deleted = %v, want %v", i, os.IsNotExist(err), gone)
				}
			}
		})
	}
}

func TestRetention_Prune_InvalidMax(t *testing.T) {
	store := backup.NewSnapshotStore(t.TempDir(), "lessons", testutil.NewFaultFilesystem())
	for _, n := range []int{0, -1} {
		if _, err := backup.NewRetention(store, backup.NewNopLogger()).Prune(n); err == nil {
			t.Errorf("Prune(%d) expected error", n)
		}
	}
}

func TestRetention_Prune_DeleteFailureSkipped(t *testing.T) {
	fsys := testutil.NewFaultFilesystem()
	store := backup.NewSnapshotStore(filepath.Join(t.TempDir(), "backups"), "lessons", fsys)
	paths := seedSnapshots(t, store, testutil.FixedClock().Now(), 6)

	locked := paths[1]
	fsys.FailRemove(func(path string) error {
		if path == locked {
			return errors.New("file is locked")
		}
		return nil
	})

	logger := &testutil.RecordingLogger{}
	deleted, err := backup.NewRetention(store, logger).Prune(2)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("Prune() deleted %d, want 3", deleted)
	}

	if _, err := os.Stat(locked); err != nil {
		t.Errorf("locked snapshot should remain: %v", err)
	}
	for _, p := range []string{paths[0], paths[2], paths[3]} {
		assertNotExist(t, p)
	}
	if _, ok := logger.Find("WARN", "could not delete"); !ok {
		t.Error("delete failure was not logged as a warning")
	}
}

func TestRetention_Prune_VanishedFile(t *testing.T) {
	fsys := testutil.NewFaultFilesystem()
	store := backup.NewSnapshotStore(filepath.Join(t.TempDir(), "backups"), "lessons", fsys)
	paths := seedSnapshots(t, store, testutil.FixedClock().Now(), 3)

	// Simulate another process deleting the file between list and delete.
	fsys.FailRemove(func(path string) error {
		if path == paths[0] {
			os.Remove(path)
		}
		return nil
	})

	deleted, err := backup.NewRetention(store, backup.NewNopLogger()).Prune(1)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("Prune() deleted %d, want 2", deleted)
	}
}

func TestRetention_Prune_KeepsPinned(t *testing.T) {
	store := backup.NewSnapshotStore(filepath.Join(t.TempDir(), "backups"), "lessons", testutil.NewFaultFilesystem())
	paths := seedSnapshots(t, store, testutil.FixedClock().Now(), 4)

	store.Pin(paths[0])
	deleted, err := backup.NewRetention(store, backup.NewNopLogger()).Prune(1)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("Prune() deleted %d, want 2", deleted)
	}
	if _, err := os.Stat(paths[0]); err != nil {
		t.Errorf("pinned snapshot was deleted: %v", err)
	}

	store.Unpin(paths[0])
	if _, err := backup.NewRetention(store, backup.NewNopLogger()).Prune(1); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	assertNotExist(t, paths[0])
}
