package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

// TimestampLayout is the timestamp embedded in snapshot names. Zero-padded
// fields keep lexicographic order equal to chronological order.
const TimestampLayout = "2006-01-02_15-04-05"

// maxSequence bounds the same-second suffix; names use three digits.
const maxSequence = 999

// Snapshot is one point-in-time copy of the live database.
type Snapshot struct {
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// SnapshotStore manages the directory holding all snapshots of one database:
//
//	<dir>/
//	  <dbname>_backup_<yyyy-MM-dd_HH-mm-ss>.db
//	  <dbname>_backup_<yyyy-MM-dd_HH-mm-ss>_001.db   (same-second collision)
//
// Files that do not match this pattern are ignored.
type SnapshotStore struct {
	dir     string
	prefix  string
	fs      Filesystem
	pattern *regexp.Regexp

	mu     sync.Mutex
	pinned map[string]int
}

// NewSnapshotStore creates a store for snapshots of dbName inside dir.
// The directory is created lazily on the first Allocate.
func NewSnapshotStore(dir, dbName string, fsys Filesystem) *SnapshotStore {
	prefix := dbName + "_backup_"
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) +
		`(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})(?:_(\d{3}))?\.db$`)

	return &SnapshotStore{
		dir:     dir,
		prefix:  prefix,
		fs:      fsys,
		pattern: pattern,
		pinned:  make(map[string]int),
	}
}

// Dir returns the store directory.
func (s *SnapshotStore) Dir() string {
	return s.dir
}

// SnapshotName returns the file name for a snapshot taken at t. seq 0 is the
// plain name; higher values disambiguate snapshots taken within one second.
func (s *SnapshotStore) SnapshotName(t time.Time, seq int) string {
	ts := t.Format(TimestampLayout)
	if seq == 0 {
		return s.prefix + ts + ".db"
	}
	return fmt.Sprintf("%s%s_%03d.db", s.prefix, ts, seq)
}

// Allocate returns the path of a snapshot name for time now that does not
// exist yet. Callers must serialize Allocate with the write that follows it.
func (s *SnapshotStore) Allocate(now time.Time) (string, error) {
	if err := s.fs.MkdirAll(s.dir); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}

	for seq := 0; seq <= maxSequence; seq++ {
		path := filepath.Join(s.dir, s.SnapshotName(now, seq))
		_, err := s.fs.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking snapshot name: %w", err)
		}
	}
	return "", fmt.Errorf("no free snapshot name for %s", now.Format(TimestampLayout))
}

// List returns all well-formed snapshots, newest first.
// A missing store directory yields an empty list.
func (s *SnapshotStore) List() ([]*Snapshot, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var snapshots []*Snapshot
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		created, ok := s.parseName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		snapshots = append(snapshots, &Snapshot{
			Name:      entry.Name(),
			Path:      filepath.Join(s.dir, entry.Name()),
			Size:      info.Size(),
			CreatedAt: created,
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name > snapshots[j].Name
	})
	return snapshots, nil
}

// Snapshot describes the snapshot at path, which must be inside the store.
func (s *SnapshotStore) Snapshot(path string) (*Snapshot, error) {
	name := filepath.Base(path)
	created, ok := s.parseName(name)
	if !ok {
		return nil, fmt.Errorf("not a snapshot name: %s", name)
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	return &Snapshot{
		Name:      name,
		Path:      path,
		Size:      info.Size(),
		CreatedAt: created,
	}, nil
}

// Delete removes a snapshot. A snapshot that is already gone counts as deleted.
func (s *SnapshotStore) Delete(path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

// Contains reports whether path names a snapshot inside this store.
func (s *SnapshotStore) Contains(path string) bool {
	if filepath.Dir(filepath.Clean(path)) != filepath.Clean(s.dir) {
		return false
	}
	_, ok := s.parseName(filepath.Base(path))
	return ok
}

// Pin protects path from retention until the matching Unpin.
func (s *SnapshotStore) Pin(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[pinKey(path)]++
}

// Unpin releases one Pin of path.
func (s *SnapshotStore) Unpin(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pinKey(path)
	if s.pinned[key] <= 1 {
		delete(s.pinned, key)
		return
	}
	s.pinned[key]--
}

// IsPinned reports whether path is currently pinned.
func (s *SnapshotStore) IsPinned(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned[pinKey(path)] > 0
}

func pinKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// parseName extracts the creation time from a snapshot file name.
func (s *SnapshotStore) parseName(name string) (time.Time, bool) {
	// m[2], the same-second suffix, only orders names and carries no time.
	m := s.pattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	created, err := time.ParseInLocation(TimestampLayout, m[1], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return created, true
}
