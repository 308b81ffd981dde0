package backup

import (
	"io"
	"io/fs"
)

// Filesystem abstracts the plain-file operations the backup subsystem needs,
// so failure paths can be exercised without a misbehaving disk.
type Filesystem interface {
	// Stat returns file info for path. Missing files yield an error
	// satisfying errors.Is(err, fs.ErrNotExist).
	Stat(path string) (fs.FileInfo, error)

	// ReadDir lists the entries of a directory.
	ReadDir(dir string) ([]fs.DirEntry, error)

	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error

	// Open opens a file for streaming reads.
	Open(path string) (io.ReadCloser, error)

	// CopyFile copies src to dst, creating or truncating dst, and syncs dst
	// before returning.
	CopyFile(src, dst string) error

	// Rename moves oldPath to newPath.
	Rename(oldPath, newPath string) error

	// Remove deletes a single file.
	Remove(path string) error
}
