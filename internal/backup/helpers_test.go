package backup_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"lessonlog/internal/backup"
	"lessonlog/internal/testutil"
)

// fixture is a Manager over a plain file in a temp directory.
type fixture struct {
	dir       string
	live      string
	storeDir  string
	db        *testutil.FakeDatabase
	fs        *testutil.FaultFilesystem
	clock     *testutil.StubClock
	restarter *testutil.RestartRecorder
	logger    *testutil.RecordingLogger
	mgr       *backup.Manager
}

func newFixture(t *testing.T, opts backup.Options) *fixture {
	t.Helper()

	dir := t.TempDir()
	f := &fixture{
		dir:       dir,
		live:      filepath.Join(dir, "lessons.db"),
		storeDir:  filepath.Join(dir, "backups"),
		fs:        testutil.NewFaultFilesystem(),
		clock:     testutil.FixedClock(),
		restarter: &testutil.RestartRecorder{},
		logger:    &testutil.RecordingLogger{},
	}
	f.db = testutil.NewFakeDatabase(f.live)
	f.writeLive(t, "live database v1")

	opts.StoreDir = f.storeDir
	if opts.DBName == "" {
		opts.DBName = "lessons"
	}

	mgr, err := backup.NewManager(f.db, f.fs, f.restarter, f.logger, f.clock, opts)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	f.mgr = mgr
	t.Cleanup(mgr.Wait)

	return f
}

func (f *fixture) writeLive(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(f.live, []byte(content), 0600); err != nil {
		t.Fatalf("writing live database: %v", err)
	}
}

func (f *fixture) readLive(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.live)
	if err != nil {
		t.Fatalf("reading live database: %v", err)
	}
	return string(data)
}

// storeFiles returns the sorted names of every file in the store directory.
func (f *fixture) storeFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.storeDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading store: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func assertNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s exists (stat error = %v), want it gone", filepath.Base(path), err)
	}
}
