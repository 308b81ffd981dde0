package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"

	"lessonlog/internal/backup"
)

// FakeDatabase is a backup.DatabaseHandle over a plain file. Its consistent
// copy is a byte copy, which lets backup tests control the file contents
// exactly. Safe for concurrent use.
type FakeDatabase struct {
	path string

	mu         sync.Mutex
	copyErr    error
	releaseErr error
	copies     int
	releases   int
}

// NewFakeDatabase creates a handle for the file at path. The file itself is
// managed by the test.
func NewFakeDatabase(path string) *FakeDatabase {
	return &FakeDatabase{path: path}
}

func (d *FakeDatabase) Path() string {
	return d.path
}

// ConsistentCopyTo copies the file to destPath. When a copy error is set,
// half of the file is written before the error is returned.
func (d *FakeDatabase) ConsistentCopyTo(ctx context.Context, destPath string) error {
	d.mu.Lock()
	d.copies++
	copyErr := d.copyErr
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("reading database: %w", err)
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("output file already exists: %s", destPath)
	}

	if copyErr != nil {
		_ = os.WriteFile(destPath, data[:len(data)/2], 0600)
		return copyErr
	}
	return os.WriteFile(destPath, data, 0600)
}

func (d *FakeDatabase) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	return d.releaseErr
}

// SetCopyError makes ConsistentCopyTo fail with err. nil clears it.
func (d *FakeDatabase) SetCopyError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.copyErr = err
}

// SetReleaseError makes Release fail with err. nil clears it.
func (d *FakeDatabase) SetReleaseError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseErr = err
}

// Copies returns how many consistent copies were requested.
func (d *FakeDatabase) Copies() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copies
}

// Releases returns how many times Release was called.
func (d *FakeDatabase) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

var _ backup.DatabaseHandle = (*FakeDatabase)(nil)

// RestartRecorder counts restart requests.
type RestartRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *RestartRecorder) RequestRestart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

// Count returns the number of restart requests.
func (r *RestartRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

var _ backup.Restarter = (*RestartRecorder)(nil)
