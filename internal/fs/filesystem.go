package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"lessonlog/internal/backup"
)

// OSFilesystem is the real filesystem implementation of backup.Filesystem.
// It performs actual filesystem operations using the os package.
type OSFilesystem struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// NewOSFilesystem creates a filesystem that operates on the real disk.
// Directories and files it creates are private to the user.
func NewOSFilesystem() *OSFilesystem {
	return &OSFilesystem{dirPerm: 0700, filePerm: 0600}
}

func (m *OSFilesystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (m *OSFilesystem) ReadDir(dir string) ([]fs.DirEntry, error) {
	return os.ReadDir(dir)
}

func (m *OSFilesystem) MkdirAll(dir string) error {
	return os.MkdirAll(dir, m.dirPerm)
}

// Open opens a file for reading.
func (m *OSFilesystem) Open(path string) (io.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot open directory as file: %s", path)
	}
	return os.Open(path)
}

// CopyFile copies src to dst and syncs dst to disk. On failure the partially
// written dst is removed.
func (m *OSFilesystem) CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, m.filePerm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil
}

func (m *OSFilesystem) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (m *OSFilesystem) Remove(path string) error {
	return os.Remove(path)
}

// Compile-time check that OSFilesystem implements backup.Filesystem interface
var _ backup.Filesystem = (*OSFilesystem)(nil)
