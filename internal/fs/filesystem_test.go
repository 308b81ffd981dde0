package fs

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFilesystem_CopyFile(t *testing.T) {
	t.Run("copies content", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src.db")
		dst := filepath.Join(dir, "dst.db")
		data := bytes.Repeat([]byte("lesson"), 4096)
		if err := os.WriteFile(src, data, 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		m := NewOSFilesystem()
		if err := m.CopyFile(src, dst); err != nil {
			t.Fatalf("CopyFile() error = %v", err)
		}

		got, err := os.ReadFile(dst)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Error("copied content differs from source")
		}
	})

	t.Run("truncates existing destination", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src.db")
		dst := filepath.Join(dir, "dst.db")
		os.WriteFile(src, []byte("new"), 0600)
		os.WriteFile(dst, []byte("much longer old content"), 0600)

		if err := NewOSFilesystem().CopyFile(src, dst); err != nil {
			t.Fatalf("CopyFile() error = %v", err)
		}

		got, _ := os.ReadFile(dst)
		if string(got) != "new" {
			t.Errorf("content = %q, want %q", got, "new")
		}
	})

	t.Run("missing source", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "dst.db")

		err := NewOSFilesystem().CopyFile(filepath.Join(dir, "missing.db"), dst)
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("CopyFile() error = %v, want fs.ErrNotExist", err)
		}
		if _, err := os.Stat(dst); !os.IsNotExist(err) {
			t.Error("destination created for missing source")
		}
	})
}

func TestOSFilesystem_Open(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.db")
	os.WriteFile(path, []byte("data"), 0600)

	m := NewOSFilesystem()

	rc, err := m.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "data" {
		t.Errorf("read %q, want %q", got, "data")
	}

	if _, err := m.Open(dir); err == nil {
		t.Error("Open() on a directory expected error")
	}

	if _, err := m.Open(filepath.Join(dir, "missing.db")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open() missing file error = %v, want fs.ErrNotExist", err)
	}
}

func TestOSFilesystem_MkdirAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "backups")

	if err := NewOSFilesystem().MkdirAll(dir); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Error("MkdirAll() did not create a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("directory permissions = %o, want 700", perm)
	}
}
