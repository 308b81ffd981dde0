package mirror

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"lessonlog/internal/backup"
)

// MemoryMirror keeps mirrored snapshots in memory. It is used in tests and
// by the "memory" mirror type. Safe for concurrent use.
type MemoryMirror struct {
	mu      sync.RWMutex
	objects map[string][]byte
	err     error
}

// NewMemoryMirror creates an empty in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{objects: make(map[string][]byte)}
}

func (m *MemoryMirror) Name() string {
	return "memory"
}

// Put stores the content read from r under name.
func (m *MemoryMirror) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	m.mu.RLock()
	failErr := m.err
	m.mu.RUnlock()
	if failErr != nil {
		return failErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	return nil
}

// Get returns the content stored under name.
func (m *MemoryMirror) Get(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[name]
	return data, ok
}

// Names returns the stored object names in sorted order.
func (m *MemoryMirror) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailWith makes every following Put return err. nil restores normal behavior.
func (m *MemoryMirror) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Compile-time check that MemoryMirror implements backup.Mirror interface
var _ backup.Mirror = (*MemoryMirror)(nil)
