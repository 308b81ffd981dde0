package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lessonlog/internal/backup"
)

// DirectoryMirror copies snapshots into an existing directory, typically a
// removable drive or a synced folder. It never creates the directory: a
// missing target means the drive is not mounted, and writing into the
// mount point would fill the local disk instead.
type DirectoryMirror struct {
	root string
}

// NewDirectoryMirror creates a mirror writing into root.
func NewDirectoryMirror(root string) *DirectoryMirror {
	return &DirectoryMirror{root: root}
}

func (m *DirectoryMirror) Name() string {
	return "directory:" + m.root
}

// Put stores r as <root>/<name>. The copy goes to a temp file in root and is
// renamed into place, so an interrupted copy never leaves a file under name.
func (m *DirectoryMirror) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := checkName(name); err != nil {
		return err
	}

	info, err := os.Stat(m.root)
	if err != nil {
		return fmt.Errorf("mirror directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mirror path is not a directory: %s", m.root)
	}

	return m.writeFile(ctx, filepath.Join(m.root, name), r, size)
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
func (m *DirectoryMirror) writeFile(ctx context.Context, destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(m.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: r})
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if expectedSize >= 0 && written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid mirror object name: %q", name)
	}
	return nil
}

// Compile-time check that DirectoryMirror implements backup.Mirror interface
var _ backup.Mirror = (*DirectoryMirror)(nil)
