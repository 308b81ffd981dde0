package testutil

import (
	"os"
	"sync"

	"lessonlog/internal/backup"
	"lessonlog/internal/fs"
)

// FaultFilesystem is the real filesystem with injectable failures. A hook
// returning a non-nil error makes the operation fail with that error.
// Safe for concurrent use.
type FaultFilesystem struct {
	*fs.OSFilesystem

	mu         sync.Mutex
	copyHook   func(src, dst string) error
	renameHook func(oldPath, newPath string) error
	removeHook func(path string) error
}

// NewFaultFilesystem creates a FaultFilesystem with no faults armed.
func NewFaultFilesystem() *FaultFilesystem {
	return &FaultFilesystem{OSFilesystem: fs.NewOSFilesystem()}
}

// FailCopy arms a fault for CopyFile. A failing copy writes half of src to
// dst first, like a disk filling up mid-copy.
func (f *FaultFilesystem) FailCopy(hook func(src, dst string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copyHook = hook
}

// FailRename arms a fault for Rename.
func (f *FaultFilesystem) FailRename(hook func(oldPath, newPath string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameHook = hook
}

// FailRemove arms a fault for Remove.
func (f *FaultFilesystem) FailRemove(hook func(path string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeHook = hook
}

func (f *FaultFilesystem) CopyFile(src, dst string) error {
	f.mu.Lock()
	hook := f.copyHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(src, dst); err != nil {
			if data, readErr := os.ReadFile(src); readErr == nil {
				_ = os.WriteFile(dst, data[:len(data)/2], 0600)
			}
			return err
		}
	}
	return f.OSFilesystem.CopyFile(src, dst)
}

func (f *FaultFilesystem) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	hook := f.renameHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(oldPath, newPath); err != nil {
			return err
		}
	}
	return f.OSFilesystem.Rename(oldPath, newPath)
}

func (f *FaultFilesystem) Remove(path string) error {
	f.mu.Lock()
	hook := f.removeHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(path); err != nil {
			return err
		}
	}
	return f.OSFilesystem.Remove(path)
}

var _ backup.Filesystem = (*FaultFilesystem)(nil)
